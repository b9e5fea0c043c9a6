package domain

import (
	"context"
	"time"
)

// BotStore persists bot configurations.
type BotStore interface {
	Create(ctx context.Context, bot *Bot) error
	FindByID(ctx context.Context, id string) (*Bot, error)
	ListByUser(ctx context.Context, userID string) ([]Bot, error)
	ListByStatus(ctx context.Context, status BotStatus) ([]Bot, error)
	UpdateStatus(ctx context.Context, id string, status BotStatus) error
	Update(ctx context.Context, bot *Bot) error
}

// TradeStore persists trade records through their lifecycle.
type TradeStore interface {
	Create(ctx context.Context, trade *Trade) error
	FindByID(ctx context.Context, id string) (*Trade, error)
	FindByContract(ctx context.Context, userID, contractID string) (*Trade, error)
	MarkOpen(ctx context.Context, id, contractID string, entryPrice float64, entryTime time.Time) error
	Settle(ctx context.Context, id string, status TradeStatus, exitPrice float64, exitTime time.Time, profit float64) error
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]Trade, error)

	// ProfitByDay aggregates realized profit per day for a user over the
	// given range. Keys are midnight-truncated days.
	ProfitByDay(ctx context.Context, userID string, from, to time.Time) (map[time.Time]float64, error)
	// ProfitByLeader aggregates a follower's copy-trade profit per leader.
	ProfitByLeader(ctx context.Context, followerID string) (map[string]float64, error)
}

// UserStore exposes the user settings the runtime reads and the token it
// stores at link time.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	UpdateToken(ctx context.Context, id, encryptedToken string) error
	UpdateCopySettings(ctx context.Context, u *User) error
}

// StatsStore persists per-bot aggregate performance.
type StatsStore interface {
	Get(ctx context.Context, botID string) (*BotStats, error)
	Upsert(ctx context.Context, stats *BotStats) error
}

// BalanceCache caches the latest venue-reported balance per user.
type BalanceCache interface {
	SetBalance(ctx context.Context, userID string, amount float64, currency string) error
	GetBalance(ctx context.Context, userID string) (float64, error)
}

// LockManager provides coarse distributed mutual exclusion, used to make the
// daily-loss reset sweep single-flight across instances.
type LockManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// RateLimiter bounds how fast order requests are sent per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// BlobWriter stores an object under a key, used by the trade archiver.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
