package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userCols = `id, email, encrypted_token, copy_trading_enabled,
	investment_per_trade, risk_percentage, max_daily_loss, created_at, updated_at`

// FindByID retrieves a user by its primary key.
func (s *UserStore) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id,
	).Scan(
		&u.ID, &u.Email, &u.EncryptedToken, &u.CopyTradingEnabled,
		&u.InvestmentPerTrade, &u.RiskPercentage, &u.MaxDailyLoss,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find user %s: %w", id, err)
	}
	return &u, nil
}

// UpdateToken stores a freshly encrypted venue token for a user.
func (s *UserStore) UpdateToken(ctx context.Context, id, encryptedToken string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET encrypted_token = $2, updated_at = NOW() WHERE id = $1`,
		id, encryptedToken)
	if err != nil {
		return fmt.Errorf("postgres: update token for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateCopySettings rewrites the user's copy-trading policy knobs.
func (s *UserStore) UpdateCopySettings(ctx context.Context, u *domain.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			copy_trading_enabled = $2, investment_per_trade = $3,
			risk_percentage = $4, max_daily_loss = $5, updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.CopyTradingEnabled, u.InvestmentPerTrade,
		u.RiskPercentage, u.MaxDailyLoss)
	if err != nil {
		return fmt.Errorf("postgres: update copy settings for user %s: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.UserStore = (*UserStore)(nil)
