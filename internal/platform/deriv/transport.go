package deriv

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second
)

// Transport is one live connection to the venue. Implementations must allow
// one concurrent reader and serialize writers themselves or via the caller;
// the session layer guarantees a single writer per transport.
type Transport interface {
	// ReadMessage blocks until the next inbound frame or a transport error.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one outbound frame.
	WriteMessage(data []byte) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer establishes venue connections. The session manager depends on this
// interface so tests can substitute an in-memory transport.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WSDialer dials the venue websocket endpoint with gorilla/websocket.
type WSDialer struct {
	Endpoint string
}

// Dial connects to the configured endpoint.
func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, d.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("deriv: dial %s: %w", d.Endpoint, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("deriv: read: %w", err)
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("deriv: write: %w", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

var _ Dialer = (*WSDialer)(nil)
