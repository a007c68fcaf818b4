package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/models"
	"golang.org/x/net/websocket"
)

const (
	EventIntelligenceCreated = "intelligence.created"
	heartbeatInterval        = 30 * time.Second
)

type realtimeHub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *realtimeHub) add(userID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		m = make(map[*websocket.Conn]struct{})
		h.conns[userID] = m
	}
	m[c] = struct{}{}
}

func (h *realtimeHub) remove(userID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.conns, userID)
	}
}

// users returns the ids with at least one open connection.
func (h *realtimeHub) users() []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

func (h *realtimeHub) broadcast(userID string, msg []byte) {
	if h == nil || strings.TrimSpace(userID) == "" || len(msg) == 0 {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, 8)
	for c := range h.conns[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := websocket.Message.Send(c, string(msg)); err != nil {
			_ = c.Close()
			h.remove(userID, c)
		}
	}
}

func (h *realtimeHub) count(userID string) int {
	if h == nil || strings.TrimSpace(userID) == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

type realtimeEvent struct {
	Type   string                       `json:"type"`
	UserID string                       `json:"user_id"`
	Entry  *models.IntelligenceLogEntry `json:"entry,omitempty"`
	At     string                       `json:"at"`
}

// EventsWebSocket streams realtime events for one user. Access is checked by the
// internal-auth middleware wrapped around the route.
//
// URL: /api/events/ws?userId=...
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_userId")
		return
	}

	// x/net/websocket rejects mismatched Origin by default; callers here are internal proxies.
	wsServer := websocket.Server{
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(c *websocket.Conn) {
			log.Printf("[RealtimeWS] connect userId=%s remote=%s ua=%q", userID, r.RemoteAddr, truncate(r.UserAgent(), 120))
			h.rt.add(userID, c)
			defer h.rt.remove(userID, c)
			defer log.Printf("[RealtimeWS] disconnect userId=%s remote=%s", userID, r.RemoteAddr)

			h.send(c, realtimeEvent{Type: "hello", UserID: userID})

			done := make(chan struct{})
			var doneOnce sync.Once
			closeDone := func() { doneOnce.Do(func() { close(done) }) }
			go func() {
				ticker := time.NewTicker(heartbeatInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if !h.send(c, realtimeEvent{Type: "ping", UserID: userID}) {
							closeDone()
							return
						}
					}
				}
			}()

			// Read loop keeps the connection open and notices disconnects.
			for {
				var ignored string
				if err := websocket.Message.Receive(c, &ignored); err != nil {
					closeDone()
					break
				}
			}
		},
	}

	wsServer.ServeHTTP(w, r)
}

func (h *Handler) send(c *websocket.Conn, ev realtimeEvent) bool {
	if ev.At == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return websocket.Message.Send(c, string(b)) == nil
}

func (h *Handler) emitEvent(userID string, ev realtimeEvent) {
	if h == nil || h.rt == nil || strings.TrimSpace(userID) == "" {
		return
	}
	ev.UserID = userID
	if strings.TrimSpace(ev.At) == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Realtime] marshal_failed userId=%s err=%v", userID, err)
		return
	}
	log.Printf("[Realtime] emit userId=%s type=%s subs=%d", userID, ev.Type, h.rt.count(userID))
	h.rt.broadcast(userID, b)
}

// NotifyIntelligence pushes a freshly stored entry to its owner, or to every connected
// user when the entry is global (userID empty).
func (h *Handler) NotifyIntelligence(userID string, entry models.IntelligenceLogEntry) {
	if h == nil || h.rt == nil {
		return
	}
	ev := realtimeEvent{Type: EventIntelligenceCreated, Entry: &entry}
	if strings.TrimSpace(userID) != "" {
		h.emitEvent(userID, ev)
		return
	}
	for _, id := range h.rt.users() {
		h.emitEvent(id, ev)
	}
}
