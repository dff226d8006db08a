package signal

import (
	"context"
	"errors"
)

var ErrBackpressure = errors.New("backpressure")
var ErrClosed = errors.New("connection closed")

// Conn is one signaling connection. Inbound is closed when the connection
// dies, whichever side initiated it.
type Conn interface {
	// TrySend marshals and queues v without blocking. ErrBackpressure means
	// the send queue is full; ErrClosed means the connection is gone.
	TrySend(v any) error
	// Inbound delivers raw server messages in arrival order.
	Inbound() <-chan []byte
	Close()
	// Counters returns cumulative tx/rx byte counts for stats reporting.
	Counters() (tx, rx uint64)
}

// Dialer opens signaling connections. The engine owns exactly one live Conn
// per session; reconnection dials a fresh one.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
