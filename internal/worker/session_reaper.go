package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tag-gallery/internal/logging"
)

// IdleReaper closes sessions that have not been seen for longer than idle
type IdleReaper interface {
	ReapIdle(idle time.Duration) int
}

// SessionReaper periodically closes idle gallery sessions and drops the rate
// limiters of clients gone for as long
type SessionReaper struct {
	sessions    IdleReaper
	limiters    IdleReaper
	idleTimeout time.Duration
	interval    time.Duration
	logger      *logging.Logger

	mu      sync.RWMutex
	running bool
	lastRun time.Time
	reaped  int
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SessionReaperConfig holds configuration for a session reaper
type SessionReaperConfig struct {
	Sessions    IdleReaper
	Limiters    IdleReaper // optional
	IdleTimeout time.Duration
	Interval    time.Duration // default: 1 minute
	Logger      *logging.Logger
}

// NewSessionReaper creates a new session reaper
func NewSessionReaper(cfg *SessionReaperConfig) (*SessionReaper, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("sessions cannot be nil")
	}
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive, got %v", cfg.IdleTimeout)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SessionReaper{
		sessions:    cfg.Sessions,
		limiters:    cfg.Limiters,
		idleTimeout: cfg.IdleTimeout,
		interval:    interval,
		logger:      logger.WithComponent("session_reaper"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins reaping in the background
func (r *SessionReaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("session reaper is already running")
	}
	r.running = true
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"interval":    r.interval.String(),
		"idleTimeout": r.idleTimeout.String(),
	}).Info("starting session reaper")

	go r.loop(ctx)
	return nil
}

// Stop signals the reaper and waits for the loop to exit
func (r *SessionReaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("session reaper is not running")
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)

	select {
	case <-r.doneCh:
		r.logger.Info("session reaper stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("session reaper stop timed out")
		return ctx.Err()
	}
}

// RunOnce closes idle sessions immediately and returns how many were closed
func (r *SessionReaper) RunOnce() int {
	n := r.sessions.ReapIdle(r.idleTimeout)
	if r.limiters != nil {
		r.limiters.ReapIdle(r.idleTimeout)
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.reaped += n
	r.mu.Unlock()
	return n
}

// Stats returns the time of the last pass and the total sessions closed
func (r *SessionReaper) Stats() (lastRun time.Time, reaped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun, r.reaped
}

func (r *SessionReaper) loop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("context cancelled")
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if n := r.RunOnce(); n > 0 {
				r.logger.WithField("closed", n).Debug("reaped idle sessions")
			}
		}
	}
}
