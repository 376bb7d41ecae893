package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tag-gallery/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
)

// handleStream handles GET /api/sessions/{id}/stream. It pushes the session
// state as JSON after every change. Client frames and pongs keep the session
// alive; their content is ignored.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logger := logging.FromContext(r.Context()).WithField("sessionId", id)

	states, cancel, err := s.gallery.Subscribe(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.IncStreamClients()
		defer s.metrics.DecStreamClients()
	}

	touch := func() {
		if _, err := s.gallery.Session(id); err != nil {
			logger.Debug("stream touched a closed session")
		}
	}

	conn.SetReadLimit(maxClientFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			touch()
			conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}()

	write := func(v interface{}) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}
	closeWith := func(code int, text string) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	}

	if state, err := s.gallery.View(id); err == nil {
		if err := write(state); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case state, ok := <-states:
			if !ok {
				closeWith(websocket.CloseNormalClosure, "session closed")
				return
			}
			if err := write(state); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-s.closing:
			closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}
