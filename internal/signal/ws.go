package signal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendQueueSize = 32
	writeDeadline = 5 * time.Second
)

// WSDialer dials the server's websocket signaling endpoint.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	c := &wsConn{
		conn:    ws,
		send:    make(chan []byte, sendQueueSize),
		inbound: make(chan []byte, sendQueueSize),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

type wsConn struct {
	conn    *websocket.Conn
	send    chan []byte
	inbound chan []byte

	tx atomic.Uint64
	rx atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		c.tx.Add(uint64(len(b)))
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Inbound() <-chan []byte { return c.inbound }

func (c *wsConn) Counters() (uint64, uint64) { return c.tx.Load(), c.rx.Load() }

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *wsConn) readPump() {
	defer func() {
		c.Close()
		close(c.inbound)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "signal").Msg("readPump read error")
			return
		}
		c.rx.Add(uint64(len(data)))
		c.inbound <- data
	}
}
