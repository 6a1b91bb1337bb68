// Package wsnet adapts a gorilla/websocket connection to the
// entitysync.TwoWayBuffer contract, so a real network transport can be
// substituted for entitysync.InMemoryTransport without either syncer caring
// which one it's talking to. Framing mirrors the teacher corpus's websocket
// servers: one JSON text frame per logical message, a dedicated read pump
// goroutine, ping/pong keepalive.
package wsnet

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
	recvQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Upgrade promotes an HTTP request to a websocket connection and wraps it in
// a Conn. Recv is the message type read from the peer, Send is the message
// type written to it — for the server side that's
// Conn[entitysync.InputMessage[I], entitysync.StateMessage[S]], for the
// client side the type arguments are swapped.
func Upgrade[Recv, Send any](w http.ResponseWriter, r *http.Request) (*Conn[Recv, Send], error) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn[Recv, Send](wsConn), nil
}

// Dial opens a client-side websocket connection to url and wraps it in a Conn.
func Dial[Recv, Send any](url string) (*Conn[Recv, Send], error) {
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return newConn[Recv, Send](wsConn), nil
}

// Conn is a entitysync.TwoWayBuffer backed by one websocket connection. Send
// is non-blocking with respect to the caller (it marshals and writes
// synchronously, matching TwoWayBuffer's "never blocks the sync loop on a
// slow peer" contract only insofar as the OS socket buffer absorbs bursts);
// Receive drains whatever the read pump has decoded since the last call.
type Conn[Recv, Send any] struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending []Recv

	closeOnce sync.Once
	closed    chan struct{}

	// OnError fires from the read pump goroutine when a frame fails to
	// decode or the connection drops. Optional.
	OnError func(err error)
}

func newConn[Recv, Send any](wsConn *websocket.Conn) *Conn[Recv, Send] {
	c := &Conn[Recv, Send]{conn: wsConn, closed: make(chan struct{})}
	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go c.readPump()
	go c.pingPump()
	return c
}

func (c *Conn[Recv, Send]) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.OnError != nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.OnError(err)
			}
			c.closeOnce.Do(func() { close(c.closed) })
			return
		}

		var msg Recv
		if err := json.Unmarshal(data, &msg); err != nil {
			if c.OnError != nil {
				c.OnError(err)
			}
			continue
		}

		c.mu.Lock()
		c.pending = append(c.pending, msg)
		c.mu.Unlock()
	}
}

func (c *Conn[Recv, Send]) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send implements entitysync.TwoWayBuffer: each message is marshaled to JSON
// and written as its own text frame, in call order.
func (c *Conn[Recv, Send]) Send(messages ...Send) {
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			if c.OnError != nil {
				c.OnError(err)
			}
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if c.OnError != nil {
				c.OnError(err)
			}
			return
		}
	}
}

// Receive implements entitysync.TwoWayBuffer: it drains every message
// decoded by the read pump since the last call, in arrival order.
func (c *Conn[Recv, Send]) Receive() []Recv {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

// Close closes the underlying websocket connection.
func (c *Conn[Recv, Send]) Close() error {
	return c.conn.Close()
}
