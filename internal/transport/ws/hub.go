package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans run events out to the WebSocket subscribers of each run
type Hub struct {
	// runID -> subscribers
	subs map[string]map[*Connection]struct{}

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	stopOnce   sync.Once

	logger *zap.Logger
}

// Connection is one subscriber of a run
type Connection struct {
	RunID      string
	OperatorID string
	Send       chan []byte
	Hub        *Hub
}

// BroadcastMessage is a message for every subscriber of a run. Close
// disconnects them after everything queued before it is delivered.
type BroadcastMessage struct {
	RunID   string
	Message *Message
	Close   bool
}

// NewHub creates a new WebSocket hub and starts its loop
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		subs:       make(map[string]map[*Connection]struct{}),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 1024),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for runID, conns := range h.subs {
				for conn := range conns {
					close(conn.Send)
				}
				delete(h.subs, runID)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.subs[conn.RunID] == nil {
				h.subs[conn.RunID] = make(map[*Connection]struct{})
			}
			h.subs[conn.RunID][conn] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("subscriber connected", zap.String("run_id", conn.RunID), zap.String("operator_id", conn.OperatorID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.subs[conn.RunID]; ok {
				if _, ok := conns[conn]; ok {
					delete(conns, conn)
					close(conn.Send)
					if len(conns) == 0 {
						delete(h.subs, conn.RunID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			if msg.Close {
				h.mu.Lock()
				for conn := range h.subs[msg.RunID] {
					close(conn.Send)
				}
				delete(h.subs, msg.RunID)
				h.mu.Unlock()
				continue
			}
			data, err := json.Marshal(msg.Message)
			if err != nil {
				h.logger.Error("failed to encode message", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for conn := range h.subs[msg.RunID] {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Subscribers returns the number of connections watching a run
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[runID])
}

// BroadcastRunEvent sends a message to every subscriber of the run
// (implements service.Broadcaster). It never blocks; events are dropped
// when the hub is saturated.
func (h *Hub) BroadcastRunEvent(runID string, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{RunID: runID, Message: &Message{Type: msgType, Payload: data}}:
	default:
		h.logger.Warn("hub saturated, dropping event", zap.String("run_id", runID), zap.String("type", msgType))
	}
}

// CloseRun disconnects every subscriber of a finished run (implements service.Broadcaster)
func (h *Hub) CloseRun(runID string) {
	select {
	case h.broadcast <- &BroadcastMessage{RunID: runID, Close: true}:
	case <-h.done:
	}
}

// Stop shuts the hub loop down and closes every connection
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
