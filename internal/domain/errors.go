package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSessionClosed      = errors.New("session closed")
	ErrSessionNotFound    = errors.New("no session for user")
	ErrNotAuthenticated   = errors.New("session not authenticated")
	ErrBotNotFound        = errors.New("bot not found")
	ErrBotAlreadyRunning  = errors.New("bot already running")
	ErrTradeInFlight      = errors.New("trade already in flight")
	ErrRiskLimitReached   = errors.New("risk limit reached")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrCopyTradeDisabled  = errors.New("copy trading disabled")
	ErrLockHeld           = errors.New("lock already held")
	ErrContextDone        = errors.New("context cancelled")
)
