package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/devbundle/internal/http"
	"github.com/wolfeidau/devbundle/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

// ClientSession is one connected live reload client.
type ClientSession struct {
	ID        string
	ClientIP  string
	Connected time.Time

	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	subscribed bool
	lastAck    int64
}

// Subscribed reports whether the client receives notifications
func (c *ClientSession) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// LastAck returns the last artifact version the client acknowledged
func (c *ClientSession) LastAck() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAck
}

// Hub tracks live reload sessions and fans notifications out to them.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	metrics  *telemetry.Metrics

	mu        sync.Mutex
	sessions  map[string]*ClientSession
	lastError *Message
	closed    bool
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the dev server is reached from whatever origin the page is served on
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics:  telemetry.GetMetrics(),
		sessions: make(map[string]*ClientSession),
	}
}

// ServeHTTP upgrades the request and runs the session until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Debug().Err(err).Msg("Live reload upgrade failed")
		return
	}

	session := &ClientSession{
		ID:         uuid.NewString(),
		ClientIP:   httpmiddleware.ClientIPFromContext(r.Context()),
		Connected:  time.Now(),
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		subscribed: true,
	}

	if err := h.register(session); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(session)
	h.readPump(session)
}

func (h *Hub) register(session *ClientSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	h.sessions[session.ID] = session
	h.metrics.ActiveSessions.Add(context.Background(), 1)

	if h.lastError != nil {
		if data, err := json.Marshal(h.lastError); err == nil {
			session.send <- data
		}
	}

	h.logger.Info().
		Str("session", session.ID).
		Str("client_ip", session.ClientIP).
		Int("sessions", len(h.sessions)).
		Msg("Live reload client connected")
	return nil
}

// remove drops the session and closes its send channel, the write pump then
// closes the connection. Safe to call more than once.
func (h *Hub) remove(session *ClientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(session)
}

func (h *Hub) removeLocked(session *ClientSession) {
	if _, ok := h.sessions[session.ID]; !ok {
		return
	}
	delete(h.sessions, session.ID)
	close(session.send)
	h.metrics.ActiveSessions.Add(context.Background(), -1)

	h.logger.Info().
		Str("session", session.ID).
		Int64("last_ack", session.LastAck()).
		Int("sessions", len(h.sessions)).
		Msg("Live reload client disconnected")
}

// NotifyUpdate tells subscribed clients a new artifact version is available
// and clears any recorded error.
func (h *Hub) NotifyUpdate(version int64) int {
	return h.broadcast(Message{Type: TypeUpdate, Version: version}, false)
}

// NotifyError tells subscribed clients the last rebuild failed. The error is
// replayed to clients connecting before the next successful update.
func (h *Hub) NotifyError(message string) int {
	return h.broadcast(Message{Type: TypeError, Message: message}, true)
}

// broadcast returns the number of sessions the message was queued for. Slow
// clients with a full buffer are dropped, never waited on.
func (h *Hub) broadcast(msg Message, sticky bool) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode live reload message")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if sticky {
		h.lastError = &msg
	} else {
		h.lastError = nil
	}

	sent := 0
	for _, session := range h.sessions {
		if !session.Subscribed() {
			continue
		}
		select {
		case session.send <- data:
			sent++
		default:
			h.logger.Warn().Str("session", session.ID).Msg("Live reload client too slow, dropping")
			h.removeLocked(session)
		}
	}

	if sent > 0 {
		h.metrics.NotificationsSent.Add(context.Background(), int64(sent),
			metric.WithAttributes(attribute.String("type", msg.Type)))
	}

	return sent
}

// Sessions returns the connected sessions ordered by ID
func (h *Hub) Sessions() []*ClientSession {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions := make([]*ClientSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, session := range h.sessions {
		h.removeLocked(session)
	}
}

func (h *Hub) readPump(session *ClientSession) {
	defer func() {
		h.remove(session)
		_ = session.conn.Close()
	}()

	session.conn.SetReadLimit(maxMessageSize)
	_ = session.conn.SetReadDeadline(time.Now().Add(pongWait))
	session.conn.SetPongHandler(func(string) error {
		return session.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := session.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str("session", session.ID).Msg("Live reload read failed")
			}
			return
		}

		session.mu.Lock()
		switch msg.Type {
		case TypeAck:
			if msg.Version > session.lastAck {
				session.lastAck = msg.Version
			}
		case TypeSubscribe:
			session.subscribed = true
		case TypeUnsubscribe:
			session.subscribed = false
		default:
			h.logger.Debug().Str("session", session.ID).Str("type", msg.Type).Msg("Ignoring unknown live reload message")
		}
		session.mu.Unlock()
	}
}

func (h *Hub) writePump(session *ClientSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = session.conn.Close()
	}()

	for {
		select {
		case data, ok := <-session.send:
			_ = session.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = session.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := session.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(session)
				return
			}
		case <-ticker.C:
			_ = session.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := session.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(session)
				return
			}
		}
	}
}
