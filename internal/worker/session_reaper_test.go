package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tag-gallery/internal/logging"
)

type fakeSessions struct {
	mu    sync.Mutex
	calls []time.Duration
	close int
}

func (f *fakeSessions) ReapIdle(idle time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, idle)
	return f.close
}

func (f *fakeSessions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewSessionReaper(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *SessionReaperConfig
		wantErr bool
	}{
		{"valid", &SessionReaperConfig{Sessions: &fakeSessions{}, IdleTimeout: time.Minute}, false},
		{"nil sessions", &SessionReaperConfig{IdleTimeout: time.Minute}, true},
		{"zero idle timeout", &SessionReaperConfig{Sessions: &fakeSessions{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewSessionReaper(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, time.Minute, r.interval)
		})
	}
}

func TestSessionReaper_RunOnce(t *testing.T) {
	sessions := &fakeSessions{close: 2}
	r, err := NewSessionReaper(&SessionReaperConfig{
		Sessions:    sessions,
		IdleTimeout: 30 * time.Minute,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, r.RunOnce())
	assert.Equal(t, 2, r.RunOnce())

	lastRun, reaped := r.Stats()
	assert.False(t, lastRun.IsZero())
	assert.Equal(t, 4, reaped)
	assert.Equal(t, []time.Duration{30 * time.Minute, 30 * time.Minute}, sessions.calls)
}

func TestSessionReaper_ReapsLimiters(t *testing.T) {
	limiters := &fakeSessions{close: 5}
	r, err := NewSessionReaper(&SessionReaperConfig{
		Sessions:    &fakeSessions{},
		Limiters:    limiters,
		IdleTimeout: time.Minute,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, r.RunOnce(), "only sessions count as reaped")
	assert.Equal(t, []time.Duration{time.Minute}, limiters.calls)
}

func TestSessionReaper_StartStop(t *testing.T) {
	sessions := &fakeSessions{}
	r, err := NewSessionReaper(&SessionReaperConfig{
		Sessions:    sessions,
		IdleTimeout: time.Minute,
		Interval:    5 * time.Millisecond,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "second start must fail")

	assert.Eventually(t, func() bool { return sessions.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	assert.Error(t, r.Stop(ctx), "stopping twice must fail")

	calls := sessions.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, sessions.callCount(), "no passes after stop")
}

func TestSessionReaper_ContextCancel(t *testing.T) {
	r, err := NewSessionReaper(&SessionReaperConfig{
		Sessions:    &fakeSessions{},
		IdleTimeout: time.Minute,
		Interval:    time.Hour,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()

	select {
	case <-r.doneCh:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
}
