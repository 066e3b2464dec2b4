package feed

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan interface{}
	sendClosed    bool
	subscriptions map[string]bool // uploadId -> subscribed
	mu            sync.RWMutex
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan interface{}, sendBufferSize),
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) Subscribe(uploadID string) {
	c.mu.Lock()
	c.subscriptions[uploadID] = true
	c.mu.Unlock()

	c.hub.Subscribe(c, uploadID)
}

func (c *Client) Unsubscribe(uploadID string) {
	c.mu.Lock()
	delete(c.subscriptions, uploadID)
	c.mu.Unlock()

	c.hub.Unsubscribe(c, uploadID)
}

// ReadPump consumes subscribe/unsubscribe/ping messages until the
// connection drops. Blocks; run it on the connection's goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg IncomingMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("[FEED] Unexpected close")
			}
			return
		}

		switch msg.Type {
		case MessageTypeSubscribe:
			if msg.UploadID != "" {
				c.Subscribe(msg.UploadID)
			}
		case MessageTypeUnsubscribe:
			if msg.UploadID != "" {
				c.Unsubscribe(msg.UploadID)
			}
		case MessageTypePing:
			c.trySend(&OutgoingMessage{Type: MessageTypePong})
		default:
			c.trySend(&OutgoingMessage{Type: MessageTypeError, Error: "unknown message type"})
		}
	}
}

// WritePump drains the send channel onto the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) trySend(msg interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// closeSend shuts the outbound queue exactly once; the read pump may
// still be replying to a ping concurrently.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}
