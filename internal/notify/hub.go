package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const defaultWriteWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(deadline time.Time, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(v)
}

// Hub streams reminders to WebSocket subscribers. Clients connect with
// ?patient_id=<id> and receive that patient's reminders.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*client]struct{}
	logger  *logrus.Logger
}

// NewHub creates an empty hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the peer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		http.Error(w, "patient_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	h.register(patientID, c)
	h.logger.WithField("patient_id", patientID).Debug("Reminder subscriber connected")

	defer func() {
		h.unregister(patientID, c)
		conn.Close()
		h.logger.WithField("patient_id", patientID).Debug("Reminder subscriber disconnected")
	}()

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) register(patientID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[patientID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[patientID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(patientID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[patientID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, patientID)
	}
}

// Subscribers returns how many connections the patient has open.
func (h *Hub) Subscribers(patientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[patientID])
}

// Notify writes the reminder to every connection of the patient. A failed
// connection is dropped.
func (h *Hub) Notify(ctx context.Context, r domain.Reminder) error {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients[r.PatientID]))
	for c := range h.clients[r.PatientID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	msg := map[string]interface{}{
		"event": "dose_reminder",
		"data":  r,
	}
	for _, c := range targets {
		if err := c.writeJSON(deadline, msg); err != nil {
			h.logger.WithField("patient_id", r.PatientID).WithError(err).Warn("Dropping reminder subscriber")
			h.unregister(r.PatientID, c)
			c.conn.Close()
		}
	}
	return nil
}
