package firmware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"golang.org/x/sync/singleflight"
)

// Default refresh policy.
const (
	DefaultRefreshAttempts = 3
	DefaultRefreshDelay    = 500 * time.Millisecond
)

// Release is one published firmware build.
type Release struct {
	Version     int
	Image       []byte
	PublishedAt time.Time
}

// Source fetches the latest release from the artifact store.
type Source interface {
	Fetch(ctx context.Context) (Release, error)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// RefreshAttempts is how many times a fetch is tried per refresh.
	RefreshAttempts uint

	// RefreshDelay is the fixed pause between attempts.
	RefreshDelay time.Duration

	Logger Logger
}

// Cache holds the latest release in memory.
//
// Concurrent refreshes are collapsed into one fetch. A failed refresh keeps
// whatever was cached before.
type Cache struct {
	source   Source
	attempts uint
	delay    time.Duration
	logger   Logger

	mu        sync.RWMutex
	release   *Release
	refreshed time.Time

	group singleflight.Group
}

// NewCache creates an empty cache over source.
func NewCache(source Source, opts CacheOptions) *Cache {
	if opts.RefreshAttempts == 0 {
		opts.RefreshAttempts = DefaultRefreshAttempts
	}
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Cache{
		source:   source,
		attempts: opts.RefreshAttempts,
		delay:    opts.RefreshDelay,
		logger:   opts.Logger,
	}
}

// Refresh fetches the latest release and caches it. An empty store is not
// retried.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Cache) refresh(ctx context.Context) error {
	var rel Release
	err := retry.New(
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrNoRelease) && !errors.Is(err, ErrInvalidRelease)
		}),
	).Do(func() error {
		fetched, err := c.source.Fetch(ctx)
		if err != nil {
			return err
		}
		if len(fetched.Image) == 0 {
			return fmt.Errorf("%w: version %d has an empty image", ErrInvalidRelease, fetched.Version)
		}
		rel = fetched
		return nil
	})
	if err != nil {
		c.logger.Error("firmware refresh failed", "error", err)
		return fmt.Errorf("refreshing firmware: %w", err)
	}

	c.mu.Lock()
	previous := 0
	if c.release != nil {
		previous = c.release.Version
	}
	c.release = &rel
	c.refreshed = time.Now()
	c.mu.Unlock()

	if rel.Version != previous {
		c.logger.Info("firmware cached", "version", rel.Version, "previous", previous, "size", len(rel.Image))
	}
	return nil
}

// Get returns the cached release, refreshing first when nothing is cached.
func (c *Cache) Get(ctx context.Context) (Release, error) {
	if rel, ok := c.cached(); ok {
		return rel, nil
	}

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("lazy firmware refresh failed", "error", err)
	}

	if rel, ok := c.cached(); ok {
		return rel, nil
	}
	return Release{}, ErrNoFirmware
}

// Version returns the cached version, or 0 when nothing is cached.
func (c *Cache) Version() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.release == nil {
		return 0
	}
	return c.release.Version
}

// RefreshedAt returns when the cache was last filled.
func (c *Cache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

func (c *Cache) cached() (Release, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.release == nil {
		return Release{}, false
	}
	return *c.release, true
}
