package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/feed"
	"github.com/alanyoungcy/tickpilot/internal/platform/deriv"
)

// stubTransport is a scripted in-memory transport. Tests push inbound frames
// with deliver and inspect outbound messages with writes.
type stubTransport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (t *stubTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, errors.New("stub: connection closed")
	}
}

func (t *stubTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return errors.New("stub: connection closed")
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	t.sent = append(t.sent, cp)
	return nil
}

func (t *stubTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *stubTransport) deliver(frame string) {
	t.in <- []byte(frame)
}

// writes returns the outbound messages decoded as generic maps.
func (t *stubTransport) writes() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, 0, len(t.sent))
	for _, data := range t.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type stubDialer struct {
	mu         sync.Mutex
	transports []*stubTransport
	dials      int
	failAll    bool
}

func (d *stubDialer) dial(ctx context.Context) (deriv.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll {
		return nil, errors.New("stub: dial refused")
	}
	t := newStubTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *stubDialer) transport(i int) *stubTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < len(d.transports) {
		return d.transports[i]
	}
	return nil
}

type dialerFunc func(ctx context.Context) (deriv.Transport, error)

func (f dialerFunc) Dial(ctx context.Context) (deriv.Transport, error) { return f(ctx) }

// recorder captures fan-out events.
type recorder struct {
	mu      sync.Mutex
	ticks   []domain.Tick
	errs    []domain.APIError
	auths   []string
	giveUps []string
}

func (r *recorder) OnTick(userID string, tick domain.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, tick)
}

func (r *recorder) OnSessionAuthenticated(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auths = append(r.auths, userID)
}

func (r *recorder) OnSessionError(e domain.APIError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, e)
}

func (r *recorder) OnSessionGiveUp(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.giveUps = append(r.giveUps, userID)
}

func (r *recorder) giveUpCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.giveUps)
}

func (r *recorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(d *stubDialer, rec *recorder) *Manager {
	m := NewManager(dialerFunc(d.dial), feed.NewWindows(100), Config{
		MaxReconnectAttempts: 5,
		ReconnectBase:        time.Millisecond,
		LivenessPeriod:       time.Hour,
		SilenceTimeout:       time.Hour,
	}, testLogger())
	m.SetConsumers(Consumers{
		Ticks:     []domain.TickConsumer{rec},
		Observers: []domain.SessionObserver{rec},
	})
	return m
}

const authFrame = `{"authorize":{"loginid":"CR90001","balance":1000,"currency":"USD"}}`

func TestQueuedSendsFlushInOrderOnAuthentication(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	tr := d.transport(0)

	// Unauthenticated: sends queue and report not-sent.
	for _, msg := range []any{
		map[string]any{"n": 1},
		map[string]any{"n": 2},
		map[string]any{"n": 3},
	} {
		sent, err := m.Send("u1", msg)
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if sent {
			t.Fatal("Send before authentication reported immediate delivery")
		}
	}

	tr.deliver(authFrame)
	waitFor(t, "authentication", func() bool { return m.Authenticated("u1") })

	// writes[0] is the authorize request, then the queue in FIFO order.
	writes := tr.writes()
	if len(writes) != 4 {
		t.Fatalf("got %d writes, want 4: %v", len(writes), writes)
	}
	if _, ok := writes[0]["authorize"]; !ok {
		t.Errorf("first write = %v, want authorize", writes[0])
	}
	for i := 1; i <= 3; i++ {
		if got := writes[i]["n"]; got != float64(i) {
			t.Errorf("writes[%d] = %v, want n=%d", i, writes[i], i)
		}
	}

	// Authenticated: sends go out immediately.
	sent, err := m.Send("u1", map[string]any{"n": 4})
	if err != nil || !sent {
		t.Fatalf("Send after auth: sent=%v err=%v", sent, err)
	}
}

func TestReconnectReinstatesSubscriptions(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	t1 := d.transport(0)
	t1.deliver(authFrame)
	waitFor(t, "authentication", func() bool { return m.Authenticated("u1") })

	if err := m.SubscribeTicks("u1", "R_100"); err != nil {
		t.Fatalf("SubscribeTicks: %v", err)
	}
	if err := m.SubscribeTicks("u1", "R_50"); err != nil {
		t.Fatalf("SubscribeTicks: %v", err)
	}

	// Unexpected close: run loop must reconnect and resubscribe.
	t1.Close()
	waitFor(t, "redial", func() bool { return d.transport(1) != nil })
	t2 := d.transport(1)
	t2.deliver(authFrame)
	waitFor(t, "reauthentication", func() bool { return m.Authenticated("u1") })

	resubbed := map[string]bool{}
	for _, w := range t2.writes() {
		if sym, ok := w["ticks"].(string); ok {
			resubbed[sym] = true
		}
	}
	if !resubbed["R_100"] || !resubbed["R_50"] {
		t.Errorf("subscriptions after reconnect = %v, want R_100 and R_50", resubbed)
	}

	s, ok := m.Session("u1")
	if !ok {
		t.Fatal("session missing after reconnect")
	}
	if got := len(s.Subscriptions()); got != 2 {
		t.Errorf("subscription set size = %d, want 2", got)
	}
}

func TestGiveUpAfterMaxAttemptsExactlyOnce(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	t1 := d.transport(0)
	t1.deliver(authFrame)
	waitFor(t, "authentication", func() bool { return m.Authenticated("u1") })

	d.mu.Lock()
	d.failAll = true
	d.mu.Unlock()
	t1.Close()

	waitFor(t, "give-up", func() bool { return rec.giveUpCount() > 0 })
	// Let any stray retry run; the count must stay at exactly one and the
	// dial count at initial + ceiling.
	time.Sleep(50 * time.Millisecond)
	if got := rec.giveUpCount(); got != 1 {
		t.Errorf("give-up events = %d, want exactly 1", got)
	}
	if got := d.dialCount(); got != 6 {
		t.Errorf("dial attempts = %d, want 6 (1 connect + 5 reconnects)", got)
	}
	if _, ok := m.Session("u1"); ok {
		t.Error("session still registered after give-up")
	}
}

func TestAuthenticationFailureIsTerminal(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "bad-token")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	d.transport(0).deliver(`{"error":{"code":"InvalidToken","message":"Token is not valid."}}`)

	waitFor(t, "error event", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.errs) > 0
	})
	time.Sleep(20 * time.Millisecond)
	if _, ok := m.Session("u1"); ok {
		t.Error("session still registered after auth failure")
	}
	if got := d.dialCount(); got != 1 {
		t.Errorf("dial attempts = %d, want 1 (no automatic retry)", got)
	}
}

func TestTickDispatchPreservesOrder(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	tr := d.transport(0)
	tr.deliver(authFrame)
	waitFor(t, "authentication", func() bool { return m.Authenticated("u1") })

	for i := 1; i <= 20; i++ {
		tr.deliver(`{"tick":{"symbol":"R_100","quote":` + jsonFloat(float64(i)) + `,"epoch":1700000000}}`)
	}
	waitFor(t, "ticks", func() bool { return rec.tickCount() == 20 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, tick := range rec.ticks {
		if tick.Price != float64(i+1) {
			t.Fatalf("ticks[%d].Price = %v, want %v", i, tick.Price, i+1)
		}
	}
}

func TestConnectReplacesExistingSession(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	d.transport(0).deliver(authFrame)
	waitFor(t, "authentication", func() bool { return m.Authenticated("u1") })

	m.Connect("u1", "token-2")
	waitFor(t, "second dial", func() bool { return d.transport(1) != nil })
	d.transport(1).deliver(authFrame)
	waitFor(t, "reauthentication", func() bool { return m.Authenticated("u1") })

	// The replaced session must not have produced a give-up.
	time.Sleep(20 * time.Millisecond)
	if got := rec.giveUpCount(); got != 0 {
		t.Errorf("give-up events = %d, want 0", got)
	}
}

func TestSilentSessionRoutedThroughReconnect(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	d.transport(0).deliver(authFrame)
	waitFor(t, "authentication", func() bool { return m.Authenticated("u1") })

	// A sweep far in the future sees the session as silent and kills the
	// transport, which takes the normal reconnect path.
	m.sweep(time.Now().Add(2 * time.Hour))
	waitFor(t, "redial", func() bool { return d.transport(1) != nil })
}

func TestSweepPingsLiveSessions(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	tr := d.transport(0)
	tr.deliver(authFrame)
	waitFor(t, "authentication", func() bool { return m.Authenticated("u1") })

	m.sweep(time.Now())
	writes := tr.writes()
	last := writes[len(writes)-1]
	if _, ok := last["ping"]; !ok {
		t.Errorf("last write = %v, want ping", last)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	d := &stubDialer{}
	rec := &recorder{}
	m := newTestManager(d, rec)
	defer m.Close()

	m.Disconnect("nobody")

	m.Connect("u1", "token-1")
	waitFor(t, "dial", func() bool { return d.transport(0) != nil })
	m.Disconnect("u1")
	m.Disconnect("u1")
	if _, ok := m.Session("u1"); ok {
		t.Error("session still registered after disconnect")
	}
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
