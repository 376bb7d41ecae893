package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/tag-gallery/internal/errors"
	"github.com/tag-gallery/internal/service"
)

// waitTimeout parses the optional wait query parameter. "true" waits up to
// MaxWait; a duration waits that long, capped at MaxWait.
func (s *Server) waitTimeout(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return 0, nil
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		if b {
			return s.config.MaxWait, nil
		}
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, apperrors.NewInvalidParameterError("wait", "must be a boolean or a duration")
	}
	if d > s.config.MaxWait {
		d = s.config.MaxWait
	}
	return d, nil
}

// awaitSettled blocks until done closes, the timeout passes or the client
// goes away. A timeout is not an error: the caller gets the loading state.
func awaitSettled(r *http.Request, done <-chan struct{}, timeout time.Duration) {
	if timeout <= 0 || done == nil {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
	case <-r.Context().Done():
	}
}

// respondState waits as requested and then writes the session state.
func (s *Server) respondState(w http.ResponseWriter, r *http.Request, id string, done <-chan struct{}, wait time.Duration, status int) {
	awaitSettled(r, done, wait)

	state, err := s.gallery.View(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, status, state)
}

// handleCreateSession handles POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	wait, err := s.waitTimeout(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var input service.FilterInput
	if err := parseJSONBody(r, &input, true); err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, done, err := s.gallery.CreateSession(input)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/sessions/"+sess.ID)
	s.respondState(w, r, sess.ID, done, wait, http.StatusCreated)
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.gallery.View(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// handleSetFilter handles PUT /api/sessions/{id}/filter
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wait, err := s.waitTimeout(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var input service.FilterInput
	if err := parseJSONBody(r, &input, false); err != nil {
		s.respondError(w, r, err)
		return
	}

	done, err := s.gallery.SetFilter(id, input)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondState(w, r, id, done, wait, http.StatusOK)
}

// handleLoadMore handles POST /api/sessions/{id}/more
func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.gallery.LoadMore)
}

// handleRefresh handles POST /api/sessions/{id}/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.gallery.Refresh)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, action func(id string) (<-chan struct{}, error)) {
	id := mux.Vars(r)["id"]
	wait, err := s.waitTimeout(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	done, err := action(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondState(w, r, id, done, wait, http.StatusOK)
}

// handleDeleteSession handles DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.gallery.CloseSession(mux.Vars(r)["id"]); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
