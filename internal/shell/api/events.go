package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/berthd/berth/internal/shell/progress"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// =============================================================================
// Progress Event Stream
// =============================================================================

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Observers are push-only and carry no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// wsSubscriber adapts a websocket connection to the progress hub. Sends come
// from the hub goroutine, Close can come from the read loop; the mutex keeps
// the connection single-writer.
type wsSubscriber struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (s *wsSubscriber) Send(event progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(event)
}

func (s *wsSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.conn.Close()
}

// handleDeploymentEvents streams one deployment's progress events.
func (h *Handler) handleDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	h.serveEvents(w, r, chi.URLParam(r, "id"))
}

// handleAllEvents streams progress events from every deployment.
func (h *Handler) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	h.serveEvents(w, r, progress.AllDeployments)
}

func (h *Handler) serveEvents(w http.ResponseWriter, r *http.Request, key string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &wsSubscriber{conn: conn}
	h.hub.Register(key, sub)

	// Drain the connection; the first read error means the observer left.
	go func() {
		defer func() {
			h.hub.Unregister(key, sub)
			sub.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
