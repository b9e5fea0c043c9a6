package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// BotStore implements domain.BotStore using PostgreSQL.
type BotStore struct {
	pool *pgxpool.Pool
}

// NewBotStore creates a new BotStore backed by the given connection pool.
func NewBotStore(pool *pgxpool.Pool) *BotStore {
	return &BotStore{pool: pool}
}

const botCols = `id, user_id, name, symbol, strategy, stake, duration,
	duration_unit, currency, max_daily_loss, max_loss_streak,
	start_hour, end_hour, status, created_at, updated_at`

func scanBot(row pgx.Row) (domain.Bot, error) {
	var b domain.Bot
	err := row.Scan(
		&b.ID, &b.UserID, &b.Name, &b.Symbol, &b.Strategy,
		&b.Stake, &b.Duration, &b.DurationUnit, &b.Currency,
		&b.MaxDailyLoss, &b.MaxLossStreak,
		&b.StartHour, &b.EndHour,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func scanBotRows(rows pgx.Rows) ([]domain.Bot, error) {
	var bots []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// Create inserts a bot configuration.
func (s *BotStore) Create(ctx context.Context, bot *domain.Bot) error {
	const query = `
		INSERT INTO bots (
			id, user_id, name, symbol, strategy, stake, duration,
			duration_unit, currency, max_daily_loss, max_loss_streak,
			start_hour, end_hour, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`
	now := time.Now()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}
	bot.UpdatedAt = now
	if bot.Status == "" {
		bot.Status = domain.BotStatusStopped
	}
	_, err := s.pool.Exec(ctx, query,
		bot.ID, bot.UserID, bot.Name, bot.Symbol, bot.Strategy,
		bot.Stake, bot.Duration, bot.DurationUnit, bot.Currency,
		bot.MaxDailyLoss, bot.MaxLossStreak,
		bot.StartHour, bot.EndHour,
		bot.Status, bot.CreatedAt, bot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bot %s: %w", bot.ID, err)
	}
	return nil
}

// FindByID retrieves a bot by its primary key.
func (s *BotStore) FindByID(ctx context.Context, id string) (*domain.Bot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+botCols+` FROM bots WHERE id = $1`, id)
	b, err := scanBot(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find bot %s: %w", id, err)
	}
	return &b, nil
}

// ListByUser returns all of a user's bots, newest first.
func (s *BotStore) ListByUser(ctx context.Context, userID string) ([]domain.Bot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+botCols+` FROM bots WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots by user: %w", err)
	}
	defer rows.Close()
	bots, err := scanBotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bots by user: %w", err)
	}
	return bots, nil
}

// ListByStatus returns all bots in the given lifecycle state.
func (s *BotStore) ListByStatus(ctx context.Context, status domain.BotStatus) ([]domain.Bot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+botCols+` FROM bots WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots by status: %w", err)
	}
	defer rows.Close()
	bots, err := scanBotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bots by status: %w", err)
	}
	return bots, nil
}

// UpdateStatus moves a bot to a new lifecycle state.
func (s *BotStore) UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bots SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("postgres: update bot %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Update rewrites a bot's configuration.
func (s *BotStore) Update(ctx context.Context, bot *domain.Bot) error {
	const query = `
		UPDATE bots SET
			name = $2, symbol = $3, strategy = $4, stake = $5,
			duration = $6, duration_unit = $7, currency = $8,
			max_daily_loss = $9, max_loss_streak = $10,
			start_hour = $11, end_hour = $12, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		bot.ID, bot.Name, bot.Symbol, bot.Strategy, bot.Stake,
		bot.Duration, bot.DurationUnit, bot.Currency,
		bot.MaxDailyLoss, bot.MaxLossStreak,
		bot.StartHour, bot.EndHour,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bot %s: %w", bot.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.BotStore = (*BotStore)(nil)
