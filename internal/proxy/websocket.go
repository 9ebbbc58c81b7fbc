package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/rostersync/internal/session"
)

const dialTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// DebugURLs resolves the DevTools endpoint of a live session.
type DebugURLs interface {
	DebugURL(id string) (string, error)
}

// Server relays a client's DevTools connection to a session's browser.
type Server struct {
	sessions DebugURLs
}

func NewServer(sessions DebugURLs) *Server {
	return &Server{
		sessions: sessions,
	}
}

// HandleDebugConnection handles /sessions/{session_id}/ws.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	logger := log.WithField("session-id", sessionID)

	target, err := s.sessions.DebugURL(sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Session unavailable", http.StatusInternalServerError)
		return
	}
	if target == "" {
		http.Error(w, "Session browser has no debug endpoint", http.StatusNotFound)
		return
	}

	// Dial first so a dead browser is reported before the upgrade.
	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()

	browserConn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		logger.WithError(err).Warn("failed to connect to browser")
		http.Error(w, "Failed to connect to browser", http.StatusBadGateway)
		return
	}
	defer browserConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("failed to upgrade connection")
		return
	}
	defer clientConn.Close()

	logger.Info("debug client connected")

	errChan := make(chan error, 2)
	go func() {
		errChan <- relay(clientConn, browserConn)
	}()
	go func() {
		errChan <- relay(browserConn, clientConn)
	}()

	if err := <-errChan; err != nil && err != io.EOF &&
		websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.WithError(err).Warn("debug proxy closed")
	}
	logger.Info("debug client disconnected")
}

func relay(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
