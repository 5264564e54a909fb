package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/wsiviewer/api/internal/model"
)

// Client represents a WebSocket client subscribed to one slide's conversion
type Client struct {
	SlideID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections grouped by slide
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	SlideID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.SlideID] == nil {
				h.clients[client.SlideID] = make(map[*Client]bool)
			}
			h.clients[client.SlideID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for slide %s", client.SlideID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.SlideID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.SlideID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from slide %s", client.SlideID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.SlideID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastProgress sends a progress update to all slide subscribers
func (h *Hub) BroadcastProgress(slideID string, progress int, status model.JobStatus) {
	msg := model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		SlideID:  slideID,
		Progress: progress,
		Status:   status,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal progress message: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		SlideID: slideID,
		Message: data,
	}
}

// BroadcastComplete announces a finished conversion to all slide subscribers
func (h *Hub) BroadcastComplete(slideID, dziURL string) {
	msg := model.WSCompleteMessage{
		Type:    model.WSMessageTypeComplete,
		SlideID: slideID,
		DziURL:  dziURL,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal complete message: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		SlideID: slideID,
		Message: data,
	}
}

// BroadcastError sends an error message to all slide subscribers
func (h *Hub) BroadcastError(slideID, code, message string) {
	msg := model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		SlideID: slideID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal error message: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		SlideID: slideID,
		Message: data,
	}
}

// HandleConnection handles a WebSocket connection for one slide
func (h *Hub) HandleConnection(c *websocket.Conn, slideID string) {
	client := &Client{
		SlideID: slideID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}
