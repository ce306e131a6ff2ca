// Package aggregator composes gateway state into the dashboard model.
// One upstream pass issues three concurrent calls, tolerates cron
// unavailability, and caches the composed result briefly.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/florawren/clawboard/internal/gateway"
	"github.com/florawren/clawboard/internal/mapper"
	"github.com/florawren/clawboard/internal/model"
)

// ErrSessionsUnavailable marks the one fatal aggregation failure: without
// sessions there is no dashboard to compose.
var ErrSessionsUnavailable = errors.New("sessions unavailable")

// Caller is the subset of the gateway client the aggregator depends on
type Caller interface {
	Call(ctx context.Context, method string, params any, out any) error
}

// Clock abstracts time so cache expiry is testable without real delays
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds aggregator settings
type Config struct {
	// CacheTTL bounds how long a composed dashboard may be served unchanged
	CacheTTL time.Duration `toml:"cache_ttl"`

	// SessionLimit caps the sessions.list fetch
	SessionLimit int `toml:"session_limit"`

	// RunLimit caps the cron.runs fetch
	RunLimit int `toml:"run_limit"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		CacheTTL:     5 * time.Second,
		SessionLimit: 50,
		RunLimit:     50,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.CacheTTL <= 0 {
		return fmt.Errorf("aggregator cache_ttl must be positive")
	}
	if c.SessionLimit <= 0 {
		return fmt.Errorf("aggregator session_limit must be positive")
	}
	if c.RunLimit <= 0 {
		return fmt.Errorf("aggregator run_limit must be positive")
	}
	return nil
}

// Aggregator orchestrates parallel gateway fetches and owns the
// single-entry result cache
type Aggregator struct {
	config Config
	gw     Caller
	clock  Clock
	logger *slog.Logger

	mu       sync.Mutex
	cached   *model.Dashboard
	cachedAt time.Time
}

// New creates an aggregator. A nil clock uses real time.
func New(config Config, gw Caller, clock Clock, logger *slog.Logger) *Aggregator {
	if clock == nil {
		clock = systemClock{}
	}
	return &Aggregator{
		config: config,
		gw:     gw,
		clock:  clock,
		logger: logger,
	}
}

// Dashboard returns the composed model, fresh or cached. The sessions call
// is load-bearing; cron calls are best-effort and degrade to empty lists.
// Two concurrent callers may both miss the cache and both fetch; the second
// write simply wins. That wastes one round trip and is accepted.
func (a *Aggregator) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	a.mu.Lock()
	if a.cached != nil && a.clock.Now().Sub(a.cachedAt) < a.config.CacheTTL {
		cached := a.cached
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	var (
		sessionsRes gateway.SessionsResult
		jobsRes     gateway.CronListResult
		runsRes     gateway.CronRunsResult
		sessionsErr error
		jobsErr     error
		runsErr     error
	)

	// All-settled join: wait for all three outcomes before composing,
	// even when one fails early.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		sessionsErr = a.gw.Call(ctx, "sessions.list", map[string]any{"limit": a.config.SessionLimit}, &sessionsRes)
	}()
	go func() {
		defer wg.Done()
		jobsErr = a.gw.Call(ctx, "cron.list", nil, &jobsRes)
	}()
	go func() {
		defer wg.Done()
		runsErr = a.gw.Call(ctx, "cron.runs", map[string]any{"limit": a.config.RunLimit}, &runsRes)
	}()
	wg.Wait()

	if sessionsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionsUnavailable, sessionsErr)
	}

	// A gateway without cron support must not break the dashboard
	if jobsErr != nil {
		a.logger.Warn("cron jobs unavailable, continuing without", "error", jobsErr)
		jobsRes.Jobs = nil
	}
	if runsErr != nil {
		a.logger.Warn("cron runs unavailable, continuing without", "error", runsErr)
		runsRes.Runs = nil
	}

	now := a.clock.Now()
	dashboard := mapper.BuildDashboard(sessionsRes.Sessions, jobsRes.Jobs, runsRes.Runs, now)

	a.mu.Lock()
	a.cached = &dashboard
	a.cachedAt = now
	a.mu.Unlock()

	return &dashboard, nil
}

// Invalidate discards the cached composition so the next call refetches.
// Used when a realtime listener is told its incremental state went stale.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}
