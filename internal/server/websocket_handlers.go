package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/retouch/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressEvent is the message pushed to websocket clients.
type ProgressEvent struct {
	Type     string          `json:"type"` // "progress" or "finished"
	Kind     string          `json:"kind"`
	Current  int             `json:"current,omitempty"`
	Total    int             `json:"total,omitempty"`
	Progress float64         `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Outcome  string          `json:"outcome,omitempty"`
	Errors   []PageErrorInfo `json:"errors,omitempty"`
	Time     string          `json:"time"`
}

// Hub fans batch progress out to websocket clients. It is a
// pipeline.StatusSink and never blocks the controller: a client whose
// buffer is full misses the message.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

var _ pipeline.StatusSink = (*Hub)(nil)

// NewHub creates an empty hub. A nil logger uses slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*wsClient]struct{}), logger: logger}
}

// Progress implements pipeline.StatusSink.
func (h *Hub) Progress(kind pipeline.Kind, current, total int, message string) {
	ev := ProgressEvent{
		Type:    "progress",
		Kind:    kind.String(),
		Current: current,
		Total:   total,
		Message: message,
	}
	if total > 0 {
		ev.Progress = float64(current) / float64(total)
	}
	h.broadcast(ev)
}

// Finished implements pipeline.StatusSink.
func (h *Hub) Finished(kind pipeline.Kind, outcome pipeline.Outcome, errs []pipeline.PageError) {
	h.broadcast(ProgressEvent{
		Type:     "finished",
		Kind:     kind.String(),
		Progress: 1,
		Outcome:  outcome.String(),
		Errors:   pageErrorInfos(errs),
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev ProgressEvent) {
	ev.Time = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode progress event", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			websocketMessagesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	websocketConnections.Inc()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		websocketConnections.Dec()
	}
	h.mu.Unlock()
}

// progressWebSocketHandler upgrades the connection and streams progress
// events until the client goes away. Client messages are read only to
// notice closes and answer pongs.
func (s *Server) progressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.register(c)

	go writePump(c)
	readPump(s.hub, c)
}

func readPump(h *Hub, c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
	}
}

func writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
