package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Outbound buffer per connection. A consumer that falls this far
	// behind is closed rather than allowed to block the room.
	outboundBuffer = 32

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Connection is the handle for one live transport socket. Room membership
// lives in the hub registry; the connection only owns its pumps and
// outbound buffer.
type Connection struct {
	ID     string
	UserID string

	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConnection(id, userID string, h *Hub, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     id,
		UserID: userID,
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, outboundBuffer),
	}
}

// enqueue hands a frame to the write pump without ever blocking the caller.
// Returns false when the buffer is full; the hub then closes the connection.
// Frames for an already-closed connection are dropped: a broadcaster holding
// a stale member snapshot must never send on the closed channel.
func (c *Connection) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[HUB] Connection %s read error: %v", c.ID, err)
			}
			return
		}
		c.hub.dispatch(c, data)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEvent frames and enqueues one event for this connection only.
func (c *Connection) sendEvent(eventType string, payload any) {
	frame, err := Marshal(eventType, payload)
	if err != nil {
		log.Printf("[HUB] Failed to marshal %s event: %v", eventType, err)
		return
	}
	if !c.enqueue(frame) {
		c.hub.dropSlow(c)
	}
}

// decodeInto unmarshals a raw client frame into its typed variant.
func decodeInto(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}
