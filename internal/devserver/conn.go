package devserver

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errBackpressure = errors.New("backpressure")

const (
	sendQueueSize = 256
	writeDeadline = 5 * time.Second
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// serverConn is one client's transport endpoint on the server side.
type serverConn struct {
	conn WSConn
	send chan []byte
	once sync.Once
}

func newServerConn(conn WSConn) *serverConn {
	return &serverConn{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

func (c *serverConn) trySend(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errBackpressure
	}
}

func (c *serverConn) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// writeLoop pumps queued messages to the network. The connection owns its
// transport resources and closes them on exit.
func (c *serverConn) writeLoop() {
	defer c.close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
