package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL.
type StatsStore struct {
	pool *pgxpool.Pool
}

// NewStatsStore creates a new StatsStore backed by the given connection pool.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// Get retrieves the aggregate performance record for a bot.
func (s *StatsStore) Get(ctx context.Context, botID string) (*domain.BotStats, error) {
	var st domain.BotStats
	err := s.pool.QueryRow(ctx, `
		SELECT bot_id, user_id, wins, losses, current_streak,
		       best_trade, worst_trade, gross_profit, gross_loss, updated_at
		FROM bot_stats WHERE bot_id = $1`, botID,
	).Scan(
		&st.BotID, &st.UserID, &st.Wins, &st.Losses, &st.CurrentStreak,
		&st.BestTrade, &st.WorstTrade, &st.GrossProfit, &st.GrossLoss, &st.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get stats for bot %s: %w", botID, err)
	}
	return &st, nil
}

// Upsert writes the full aggregate record, replacing any previous snapshot.
func (s *StatsStore) Upsert(ctx context.Context, stats *domain.BotStats) error {
	if stats.UpdatedAt.IsZero() {
		stats.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bot_stats (
			bot_id, user_id, wins, losses, current_streak,
			best_trade, worst_trade, gross_profit, gross_loss, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (bot_id) DO UPDATE SET
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			current_streak = EXCLUDED.current_streak,
			best_trade = EXCLUDED.best_trade,
			worst_trade = EXCLUDED.worst_trade,
			gross_profit = EXCLUDED.gross_profit,
			gross_loss = EXCLUDED.gross_loss,
			updated_at = EXCLUDED.updated_at`,
		stats.BotID, stats.UserID, stats.Wins, stats.Losses, stats.CurrentStreak,
		stats.BestTrade, stats.WorstTrade, stats.GrossProfit, stats.GrossLoss,
		stats.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert stats for bot %s: %w", stats.BotID, err)
	}
	return nil
}

var _ domain.StatsStore = (*StatsStore)(nil)
