// Package ratelimit meters requests to the upstream GraphQL API across every
// gallery replica using Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/tag-gallery/internal/errors"
	"github.com/tag-gallery/internal/logging"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Minute
	KeyPrefixUpstream = "upstream:budget:"
)

// consumeScript atomically checks and increments the window counter
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local budget = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + 1 > budget then
		return {0, used}
	end

	redis.call('INCR', key)
	redis.call('EXPIRE', key, ttl)
	return {1, used + 1}
`)

// UpstreamBudget caps the number of upstream requests per fixed window.
// Windows are aligned to the window size so every replica shares one counter.
type UpstreamBudget struct {
	redis      redis.Cmdable
	budget     int
	windowSize time.Duration
	keyTTL     time.Duration
	logger     *logging.Logger
	now        func() time.Time
}

// UpstreamBudgetConfig holds configuration for the budget tracker.
type UpstreamBudgetConfig struct {
	// Redis is the shared counter store. Required.
	Redis redis.Cmdable

	// Budget is the number of upstream requests allowed per window. Required.
	Budget int

	// WindowSize is the window duration. Default: 1m.
	WindowSize time.Duration

	Logger *logging.Logger
}

// UsageStats contains consumption in the current window.
type UsageStats struct {
	Used        int       `json:"used"`
	Budget      int       `json:"budget"`
	WindowStart time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *UpstreamBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", c.Budget)
	}
	if c.WindowSize < 0 {
		return errors.New("window size cannot be negative")
	}
	return nil
}

// NewUpstreamBudget creates a new tracker with the given configuration.
func NewUpstreamBudget(cfg *UpstreamBudgetConfig) (*UpstreamBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &UpstreamBudget{
		redis:      cfg.Redis,
		budget:     cfg.Budget,
		windowSize: windowSize,
		keyTTL:     2 * windowSize,
		logger:     logger.WithComponent("upstream_budget"),
		now:        time.Now,
	}, nil
}

func (b *UpstreamBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *UpstreamBudget) key(windowStart time.Time) string {
	return KeyPrefixUpstream + strconv.FormatInt(windowStart.UnixMilli(), 10)
}

// TryConsume takes one request from the current window.
//
// Returns:
//   - allowed: true if the request may go upstream
//   - waitTime: time until the next window when not allowed
//
// A Redis failure lets the request through; the gallery stays usable when the
// shared counter is unavailable.
func (b *UpstreamBudget) TryConsume(ctx context.Context) (bool, time.Duration) {
	start := b.windowStart()

	ttlSeconds := int(b.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{b.key(start)}, b.budget, ttlSeconds).Int64Slice()
	if err != nil {
		b.logger.WithError(err).Warn("budget counter unavailable, allowing upstream request")
		return true, 0
	}

	if result[0] != 1 {
		return false, b.waitTime(start)
	}
	return true, 0
}

// Acquire consumes one request or returns a budget error carrying the wait time
func (b *UpstreamBudget) Acquire(ctx context.Context) error {
	allowed, wait := b.TryConsume(ctx)
	if allowed {
		return nil
	}
	err := apperrors.NewBudgetExceededError(b.budget)
	err.Details["retryAfterMs"] = wait.Milliseconds()
	return err
}

// waitTime returns the time until the next window starts.
func (b *UpstreamBudget) waitTime(start time.Time) time.Duration {
	wait := start.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns usage of the current window.
func (b *UpstreamBudget) GetUsage(ctx context.Context) (*UsageStats, error) {
	start := b.windowStart()

	used, err := b.redis.Get(ctx, b.key(start)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &UsageStats{
		Used:        used,
		Budget:      b.budget,
		WindowStart: start,
	}, nil
}

// Budget returns the configured number of requests per window.
func (b *UpstreamBudget) Budget() int {
	return b.budget
}

// WindowSize returns the configured window size.
func (b *UpstreamBudget) WindowSize() time.Duration {
	return b.windowSize
}
