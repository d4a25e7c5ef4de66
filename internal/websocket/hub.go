package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/assetgen/api/internal/model"
)

// Client represents a WebSocket client subscribed to one run
type Client struct {
	RunID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by run ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to run subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	RunID   string
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
			if h.clients[client.RunID] == nil {
				h.clients[client.RunID] = make(map[*Client]bool)
			}
			h.clients[client.RunID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for run %s", client.RunID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.RunID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.RunID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from run %s", client.RunID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.RunID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						// slow consumer; Send is only closed on unregister
						log.Printf("Dropping event for slow client on run %s", msg.RunID)
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

// Subscribers returns the number of clients watching runID
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[runID])
}

// BroadcastStage sends a stage transition to all run subscribers
func (h *Hub) BroadcastStage(runID string, state model.StageState) {
	h.send(runID, StageMessage(runID, state))
}

// BroadcastProgress sends upload progress of one file to all run subscribers
func (h *Hub) BroadcastProgress(runID, fileName string, percent int) {
	h.send(runID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		RunID:    runID,
		FileName: fileName,
		Percent:  percent,
	})
}

// BroadcastComplete sends a completion message to all run subscribers
func (h *Hub) BroadcastComplete(runID string, result *model.Artifact) {
	h.send(runID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		RunID:  runID,
		Result: result,
	})
}

// BroadcastError sends an error message to all run subscribers
func (h *Hub) BroadcastError(runID string, code, message string, stage model.Stage) {
	h.send(runID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		RunID: runID,
		Error: model.WSError{
			Code:    code,
			Message: message,
			Stage:   stage,
		},
	})
}

// StageMessage builds the stage event for state
func StageMessage(runID string, state model.StageState) model.WSStageMessage {
	return model.WSStageMessage{
		Type:   model.WSMessageTypeStage,
		RunID:  runID,
		Stage:  state.Stage,
		Label:  state.Label,
		Status: state.Status,
		Error:  state.Error,
	}
}

// send never blocks the pipeline: when the hub is saturated the event is dropped
// and subscribers catch up from the run record.
func (h *Hub) send(runID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{RunID: runID, Message: data}:
	default:
		log.Printf("Websocket broadcast queue full, dropping event for run %s", runID)
	}
}

// HandleConnection handles a WebSocket connection. initial messages are sent
// before any live event so a late subscriber sees the run's current state.
func (h *Hub) HandleConnection(c *websocket.Conn, runID string, initial ...interface{}) {
	client := &Client{
		RunID: runID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	for _, msg := range initial {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		client.Send <- data
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
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}
