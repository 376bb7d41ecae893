package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/tag-gallery/internal/errors"
	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/query"
	"github.com/tag-gallery/internal/storage"
	"github.com/tag-gallery/internal/types"
)

// SessionObserver is told how many sessions are open
type SessionObserver interface {
	SetActiveSessions(n int)
}

// FilterInput changes the selection of a session. Nil fields keep their value.
type FilterInput struct {
	Sort     *types.SortField `json:"sort,omitempty"`
	Platform *types.Platform  `json:"platform,omitempty"`
}

// Validate checks the requested sort and platform
func (f FilterInput) Validate() error {
	if f.Sort != nil && !f.Sort.IsValid() {
		return apperrors.NewInvalidParameterError("sort", "must be one of minted_at, sales_count, sales_volume")
	}
	if f.Platform != nil && !f.Platform.IsValidFilter() {
		return apperrors.NewInvalidParameterError("platform", "unknown platform "+string(*f.Platform))
	}
	return nil
}

// Session is one visitor's gallery: its selection, page size and lagged view
type Session struct {
	ID string

	mu        sync.Mutex
	desc      query.Descriptor
	paginator *Paginator
	view      *storage.LaggedView
	lastSeen  time.Time
}

// apply derives the next descriptor from the current one. A platform change
// resets the page size to the default.
func (s *Session) apply(input FilterInput) query.Descriptor {
	if input.Sort != nil {
		s.desc = s.desc.WithSort(*input.Sort)
	}
	if input.Platform != nil && *input.Platform != s.desc.Platform {
		s.desc = s.desc.WithPlatform(*input.Platform)
		s.paginator.Reset()
	}
	s.desc = s.desc.WithPageSize(s.paginator.PageSize())
	return s.desc
}

// GalleryServiceConfig configures a GalleryService
type GalleryServiceConfig struct {
	Scope           query.Scope
	DefaultPageSize int
	MaxSessions     int // 0 means unlimited
	Observer        SessionObserver
	Logger          *logging.Logger
}

// GalleryService manages gallery sessions on top of one shared fetch cache
type GalleryService struct {
	scope           query.Scope
	defaultPageSize int
	maxSessions     int
	cache           *storage.FetchCache
	assembler       *Assembler
	observer        SessionObserver
	logger          *logging.Logger
	now             func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewGalleryService creates a service. Background fetches run until Shutdown.
func NewGalleryService(cfg GalleryServiceConfig, cache *storage.FetchCache, assembler *Assembler) *GalleryService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	defaultSize := cfg.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))

	return &GalleryService{
		scope:           cfg.Scope,
		defaultPageSize: defaultSize,
		maxSessions:     cfg.MaxSessions,
		cache:           cache,
		assembler:       assembler,
		observer:        cfg.Observer,
		logger:          logger.WithComponent("gallery_service"),
		now:             time.Now,
		ctx:             ctx,
		cancel:          cancel,
		sessions:        make(map[string]*Session),
	}
}

// CreateSession opens a session with the given selection, defaulting to the
// newest tokens on every platform, and starts the first fetch.
func (s *GalleryService) CreateSession(input FilterInput) (*Session, <-chan struct{}, error) {
	if err := input.Validate(); err != nil {
		return nil, nil, err
	}

	paginator := NewPaginator(s.defaultPageSize)
	sess := &Session{
		ID:        uuid.NewString(),
		desc:      query.NewDescriptor(s.scope, types.SortMintedAt, types.PlatformAll, paginator.PageSize()),
		paginator: paginator,
		view:      storage.NewLaggedView(s.ctx, s.cache, logging.FromContext(s.ctx)),
		lastSeen:  s.now(),
	}

	s.mu.Lock()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		sess.view.Close()
		return nil, nil, apperrors.NewTooManySessionsError(s.maxSessions)
	}
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.reportSessions(count)

	sess.mu.Lock()
	d := sess.apply(input)
	done := sess.view.Select(d)
	sess.mu.Unlock()

	s.logger.WithFields(d.Fields()).WithField("sessionId", sess.ID).Debug("session created")
	return sess, done, nil
}

// Session returns the open session with id
func (s *GalleryService) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.view.Closed() {
		return nil, apperrors.NewNotFoundError("session", id)
	}

	sess.mu.Lock()
	sess.lastSeen = s.now()
	sess.mu.Unlock()
	return sess, nil
}

// SetFilter changes sort and/or platform. A platform change resets the page
// size to the default.
func (s *GalleryService) SetFilter(id string, input FilterInput) (<-chan struct{}, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.view.Closed() {
		return nil, apperrors.NewNotFoundError("session", id)
	}
	return sess.view.Select(sess.apply(input)), nil
}

// LoadMore grows the page size by one increment and fetches the wider page
func (s *GalleryService) LoadMore(id string) (<-chan struct{}, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.view.Closed() {
		return nil, apperrors.NewNotFoundError("session", id)
	}

	sess.paginator.LoadMore()
	return sess.view.Select(sess.apply(FilterInput{})), nil
}

// Refresh re-fetches the current page, keeping it on screen meanwhile
func (s *GalleryService) Refresh(id string) (<-chan struct{}, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.view.Closed() {
		return nil, apperrors.NewNotFoundError("session", id)
	}
	return sess.view.Refetch(), nil
}

// View returns the current state of a session
func (s *GalleryService) View(id string) (*ViewState, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return s.assembler.State(sess.ID, sess.view.Snapshot()), nil
}

// Subscribe streams the state of a session after every change. The channel
// closes when cancel is called or the session ends.
func (s *GalleryService) Subscribe(id string) (<-chan *ViewState, func(), error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, nil, err
	}

	snaps, cancel := sess.view.Subscribe()
	if sess.view.Closed() {
		// closed between lookup and subscribe
		cancel()
		return nil, nil, apperrors.NewNotFoundError("session", id)
	}
	out := make(chan *ViewState, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			state := s.assembler.State(sess.ID, snap)
			select {
			case <-out:
			default:
			}
			out <- state
		}
	}()
	return out, cancel, nil
}

// CloseSession ends a session and its subscriptions
func (s *GalleryService) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError("session", id)
	}
	sess.view.Close()
	s.reportSessions(count)
	s.logger.WithField("sessionId", id).Debug("session closed")
	return nil
}

// ReapIdle closes sessions not seen for longer than idle and returns how many
// were closed
func (s *GalleryService) ReapIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		stale := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if stale {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		sess.view.Close()
	}
	if len(expired) > 0 {
		s.reportSessions(count)
		s.logger.WithField("closed", len(expired)).Info("closed idle sessions")
	}
	return len(expired)
}

// SessionCount returns the number of open sessions
func (s *GalleryService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CacheStats returns the shared fetch cache counters
func (s *GalleryService) CacheStats() storage.CacheStats {
	return s.cache.Stats()
}

// Shutdown closes every session and stops background fetches
func (s *GalleryService) Shutdown() {
	s.cancel()

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.view.Close()
	}
	s.reportSessions(0)
}

func (s *GalleryService) reportSessions(n int) {
	if s.observer != nil {
		s.observer.SetActiveSessions(n)
	}
}
