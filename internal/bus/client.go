package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

// Client wraps one WebSocket connection. Writes are serialized through
// writeMu; lastActivity tracks inbound traffic for stale eviction.
type Client struct {
	ID   string
	conn *websocket.Conn

	writeMu      sync.Mutex
	lastActivity atomic.Int64
	closed       atomic.Bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{ID: uuid.NewString(), conn: conn}
	c.touch()
	return c
}

func (c *Client) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Client) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close()
	}
}

// Serve subscribes the client to a room and blocks pumping frames until the
// connection dies. The ping loop keeps intermediaries from idling us out;
// pongs refresh the read deadline.
func (b *Bus) Serve(room string, conn *websocket.Conn) {
	c := NewClient(conn)
	b.Subscribe(room, c)
	defer b.Unsubscribe(c)

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		b.HandleMessage(c, raw)
	}
}

func (c *Client) pingLoop(done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
