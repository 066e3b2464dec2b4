package feed

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub fans upload progress events out to websocket monitors subscribed
// per upload id. It is an actor: Run owns the loop, Stop shuts it down.
type Hub struct {
	clients    map[*Client]bool
	byUpload   map[string][]*Client // uploadId -> subscribers
	register   chan *Client
	unregister chan *Client
	publish    chan *ProgressMessage
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUpload:   make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan *ProgressMessage, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.publish:
			h.fanOut(msg)
		}
	}
}

// Stop halts the loop and disconnects every client. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

// PublishProgress implements the session service's progress publisher.
// Never blocks the caller; events are dropped when the hub is saturated.
func (h *Hub) PublishProgress(uploadID string, percentage int, status string) {
	msg := &ProgressMessage{
		Type:       MessageTypeProgress,
		UploadID:   uploadID,
		Percentage: percentage,
		Status:     status,
	}
	select {
	case h.publish <- msg:
	default:
		log.Warn().Str("uploadId", uploadID).Msg("[FEED] Publish buffer full, dropping progress event")
	}
}

// Register and Unregister stop delivering once the hub shuts down, so a
// pump unwinding after Stop does not block on a loop that already exited.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	log.Info().Int("totalClients", len(h.clients)).Msg("[FEED] Monitor connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	client.closeSend()

	for uploadID := range client.subscriptions {
		h.removeSubscriber(client, uploadID)
	}

	log.Info().Int("totalClients", len(h.clients)).Msg("[FEED] Monitor disconnected")
}

func (h *Hub) Subscribe(client *Client, uploadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.byUpload[uploadID] {
		if c == client {
			return
		}
	}

	h.byUpload[uploadID] = append(h.byUpload[uploadID], client)

	log.Debug().
		Str("uploadId", uploadID).
		Int("subscribers", len(h.byUpload[uploadID])).
		Msg("[FEED] Upload subscription added")
}

func (h *Hub) Unsubscribe(client *Client, uploadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeSubscriber(client, uploadID)
}

func (h *Hub) removeSubscriber(client *Client, uploadID string) {
	subs := h.byUpload[uploadID]
	for i, c := range subs {
		if c == client {
			h.byUpload[uploadID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.byUpload[uploadID]) == 0 {
		delete(h.byUpload, uploadID)
	}
}

func (h *Hub) fanOut(msg *ProgressMessage) {
	h.mu.RLock()
	subscribers := make([]*Client, len(h.byUpload[msg.UploadID]))
	copy(subscribers, h.byUpload[msg.UploadID])
	h.mu.RUnlock()

	for _, client := range subscribers {
		select {
		case client.send <- msg:
		default:
			log.Warn().
				Str("uploadId", msg.UploadID).
				Msg("[FEED] Monitor send buffer full, dropping message")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		client.conn.Close()
		delete(h.clients, client)
	}
	h.byUpload = make(map[string][]*Client)
}
