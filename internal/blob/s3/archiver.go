package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// SettledTradeStore is the slice of the trade store the archiver reads.
type SettledTradeStore interface {
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
}

// Archiver exports each day's settled trades to the object store as JSONL,
// one file per day. Rows in the primary store are never deleted here;
// pruning is a separate, explicit operation run after archives are verified.
type Archiver struct {
	writer domain.BlobWriter
	trades SettledTradeStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, trades SettledTradeStore) *Archiver {
	return &Archiver{writer: writer, trades: trades}
}

// ArchiveDay uploads all trades settled on the given day (midnight to
// midnight, in day's location) to archive/trades/YYYY-MM-DD.jsonl. It
// returns the number of archived records; zero records uploads nothing.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	trades, err := a.trades.ListSettledBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	key := fmt.Sprintf("archive/trades/%s.jsonl", from.Format("2006-01-02"))
	if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return int64(len(trades)), nil
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
