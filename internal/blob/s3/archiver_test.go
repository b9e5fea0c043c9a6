package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

type memWriter struct {
	keys        []string
	data        map[string][]byte
	contentType string
}

func (w *memWriter) Write(ctx context.Context, key string, data []byte, contentType string) error {
	if w.data == nil {
		w.data = make(map[string][]byte)
	}
	w.keys = append(w.keys, key)
	w.data[key] = data
	w.contentType = contentType
	return nil
}

type fakeSettledStore struct {
	trades []domain.Trade
	err    error
	from   time.Time
	to     time.Time
}

func (s *fakeSettledStore) ListSettledBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	s.from, s.to = from, to
	return s.trades, s.err
}

func TestArchiveDayWritesDatedJSONL(t *testing.T) {
	day := time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC)
	store := &fakeSettledStore{trades: []domain.Trade{
		{ID: "t-1", UserID: "u1", Symbol: "R_100", Status: domain.TradeStatusWon, Profit: 8.5},
		{ID: "t-2", UserID: "u1", Symbol: "R_50", Status: domain.TradeStatusLost, Profit: -10},
	}}
	w := &memWriter{}

	n, err := NewArchiver(w, store).ArchiveDay(context.Background(), day)
	if err != nil {
		t.Fatalf("ArchiveDay: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d trades, want 2", n)
	}

	// Query covers the full day containing the given instant.
	if !store.from.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("query from = %v, want midnight", store.from)
	}
	if !store.to.Equal(store.from.AddDate(0, 0, 1)) {
		t.Errorf("query to = %v, want next midnight", store.to)
	}

	if len(w.keys) != 1 || w.keys[0] != "archive/trades/2026-03-14.jsonl" {
		t.Fatalf("wrote keys %v, want one dated key", w.keys)
	}
	if w.contentType != "application/x-ndjson" {
		t.Errorf("content type = %q", w.contentType)
	}

	lines := strings.Split(strings.TrimRight(string(w.data[w.keys[0]]), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d JSONL lines, want 2", len(lines))
	}
	var rec domain.Trade
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("line 2 is not valid JSON: %v", err)
	}
	if rec.ID != "t-2" || rec.Profit != -10 {
		t.Errorf("decoded record = %+v", rec)
	}
}

func TestArchiveDayEmptyDayUploadsNothing(t *testing.T) {
	w := &memWriter{}
	n, err := NewArchiver(w, &fakeSettledStore{}).ArchiveDay(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveDay: %v", err)
	}
	if n != 0 {
		t.Errorf("archived %d trades, want 0", n)
	}
	if len(w.keys) != 0 {
		t.Errorf("uploaded %v on an empty day", w.keys)
	}
}

func TestArchiveDayPropagatesQueryError(t *testing.T) {
	w := &memWriter{}
	errBoom := errors.New("boom")
	_, err := NewArchiver(w, &fakeSettledStore{err: errBoom}).ArchiveDay(context.Background(), time.Now())
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want wrapped query error", err)
	}
	if len(w.keys) != 0 {
		t.Errorf("uploaded despite query error")
	}
}

func TestMarshalJSONLKeepsHTMLUnescaped(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"k": "a<b&c>"}})
	if err != nil {
		t.Fatalf("marshalJSONL: %v", err)
	}
	if !bytes.Contains(buf, []byte("a<b&c>")) {
		t.Errorf("output escaped HTML: %s", buf)
	}
}
