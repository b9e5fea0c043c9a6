package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// balanceTTL guards against serving balances for users whose sessions have
// long stopped reporting.
const balanceTTL = 10 * time.Minute

// BalanceCache implements domain.BalanceCache using Redis hashes. Each user's
// balance lives at "balance:{userID}" with fields "amount", "currency", and
// "ts".
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(userID string) string {
	return "balance:" + userID
}

// SetBalance stores the latest venue-reported balance for a user.
func (bc *BalanceCache) SetBalance(ctx context.Context, userID string, amount float64, currency string) error {
	key := balanceKey(userID)
	fields := map[string]interface{}{
		"amount":   strconv.FormatFloat(amount, 'f', -1, 64),
		"currency": currency,
		"ts":       strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	pipe := bc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, balanceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set balance %s: %w", userID, err)
	}
	return nil
}

// GetBalance retrieves the cached balance for a user. It returns
// domain.ErrNotFound when no balance has been reported.
func (bc *BalanceCache) GetBalance(ctx context.Context, userID string) (float64, error) {
	amountStr, err := bc.rdb.HGet(ctx, balanceKey(userID), "amount").Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get balance %s: %w", userID, err)
	}
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse balance %s: %w", userID, err)
	}
	return amount, nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
