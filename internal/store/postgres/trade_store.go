package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, user_id, bot_id, leader_id, source_trade_id, symbol,
	contract_type, contract_id, entry_price, entry_time, stake,
	duration, duration_unit, status, exit_price, exit_time, profit, created_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t         domain.Trade
		entryTime *time.Time
		exitTime  *time.Time
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.BotID, &t.LeaderID, &t.SourceTradeID,
		&t.Symbol, &t.ContractType, &t.ContractID,
		&t.EntryPrice, &entryTime, &t.Stake,
		&t.Duration, &t.DurationUnit, &t.Status,
		&t.ExitPrice, &exitTime, &t.Profit, &t.CreatedAt,
	)
	if entryTime != nil {
		t.EntryTime = *entryTime
	}
	if exitTime != nil {
		t.ExitTime = *exitTime
	}
	return t, err
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Create inserts a new trade record, normally in pending state.
func (s *TradeStore) Create(ctx context.Context, trade *domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, user_id, bot_id, leader_id, source_trade_id, symbol,
			contract_type, contract_id, entry_price, entry_time, stake,
			duration, duration_unit, status, exit_price, exit_time, profit, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18
		)`
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, query,
		trade.ID, trade.UserID, trade.BotID, trade.LeaderID, trade.SourceTradeID,
		trade.Symbol, trade.ContractType, trade.ContractID,
		trade.EntryPrice, nullableTime(trade.EntryTime), trade.Stake,
		trade.Duration, trade.DurationUnit, trade.Status,
		trade.ExitPrice, nullableTime(trade.ExitTime), trade.Profit, trade.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", trade.ID, err)
	}
	return nil
}

// FindByID retrieves a trade by its primary key.
func (s *TradeStore) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find trade %s: %w", id, err)
	}
	return &t, nil
}

// FindByContract retrieves a user's trade by venue contract id.
func (s *TradeStore) FindByContract(ctx context.Context, userID, contractID string) (*domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE user_id = $1 AND contract_id = $2`,
		userID, contractID)
	t, err := scanTrade(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find trade by contract %s/%s: %w", userID, contractID, err)
	}
	return &t, nil
}

// MarkOpen records the venue confirmation on a pending trade.
func (s *TradeStore) MarkOpen(ctx context.Context, id, contractID string, entryPrice float64, entryTime time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET
			status = $2, contract_id = $3, entry_price = $4, entry_time = $5
		WHERE id = $1`,
		id, domain.TradeStatusOpen, contractID, entryPrice, nullableTime(entryTime))
	if err != nil {
		return fmt.Errorf("postgres: mark trade %s open: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Settle records a terminal outcome on an open trade.
func (s *TradeStore) Settle(ctx context.Context, id string, status domain.TradeStatus, exitPrice float64, exitTime time.Time, profit float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET
			status = $2, exit_price = $3, exit_time = $4, profit = $5
		WHERE id = $1`,
		id, status, exitPrice, nullableTime(exitTime), profit)
	if err != nil {
		return fmt.Errorf("postgres: settle trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSettledBetween returns trades settled inside [from, to), oldest first.
// Used by the archiver.
func (s *TradeStore) ListSettledBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeCols+` FROM trades
		WHERE status IN ($1, $2) AND exit_time >= $3 AND exit_time < $4
		ORDER BY exit_time`,
		domain.TradeStatusWon, domain.TradeStatusLost, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled trades: %w", err)
	}
	defer rows.Close()
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled trades: %w", err)
	}
	return trades, nil
}

// ProfitByDay aggregates realized profit per midnight-truncated day for a
// user over [from, to).
func (s *TradeStore) ProfitByDay(ctx context.Context, userID string, from, to time.Time) (map[time.Time]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('day', exit_time) AS day, SUM(profit)
		FROM trades
		WHERE user_id = $1 AND status IN ($2, $3)
		  AND exit_time >= $4 AND exit_time < $5
		GROUP BY day ORDER BY day`,
		userID, domain.TradeStatusWon, domain.TradeStatusLost, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: profit by day for %s: %w", userID, err)
	}
	defer rows.Close()

	out := make(map[time.Time]float64)
	for rows.Next() {
		var (
			day    time.Time
			profit float64
		)
		if err := rows.Scan(&day, &profit); err != nil {
			return nil, fmt.Errorf("postgres: scan profit by day: %w", err)
		}
		out[day] = profit
	}
	return out, rows.Err()
}

// ProfitByLeader aggregates a follower's copy-trade profit per leader.
func (s *TradeStore) ProfitByLeader(ctx context.Context, followerID string) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT leader_id, SUM(profit)
		FROM trades
		WHERE user_id = $1 AND leader_id <> '' AND status IN ($2, $3)
		GROUP BY leader_id`,
		followerID, domain.TradeStatusWon, domain.TradeStatusLost)
	if err != nil {
		return nil, fmt.Errorf("postgres: profit by leader for %s: %w", followerID, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			leaderID string
			profit   float64
		)
		if err := rows.Scan(&leaderID, &profit); err != nil {
			return nil, fmt.Errorf("postgres: scan profit by leader: %w", err)
		}
		out[leaderID] = profit
	}
	return out, rows.Err()
}

var _ domain.TradeStore = (*TradeStore)(nil)
