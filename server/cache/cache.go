// Package cache keeps reconstructed session views between requests.
//
// Entries are keyed by the keystroke collection revision and the gap
// threshold, so any new keystroke record produces a new key.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/metrics"
	"github.com/ctolnik/office-insight/server/sessions"
	"github.com/ctolnik/office-insight/zapctx"
	"go.uber.org/zap"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]sessions.Session, bool, error)
	Set(ctx context.Context, key string, value []sessions.Session) error
}

// Key derives the cache key for a keystroke revision and gap.
func Key(rev database.Revision, gap time.Duration) string {
	return fmt.Sprintf("sessions:%s:%d", rev, gap.Milliseconds())
}

// Load returns the cached sessions for key, or calls load and stores its result.
// Cache errors are logged and treated as misses.
func Load(ctx context.Context, c Cache, key string, load func(context.Context) ([]sessions.Session, error)) ([]sessions.Session, error) {
	if c == nil {
		return load(ctx)
	}
	value, ok, err := c.Get(ctx, key)
	switch {
	case err != nil:
		metrics.SessionCache.WithLabelValues("error").Inc()
		zapctx.Warn(ctx, "Session cache read failed", zap.Error(err), zap.String("key", key))
	case ok:
		metrics.SessionCache.WithLabelValues("hit").Inc()
		return value, nil
	default:
		metrics.SessionCache.WithLabelValues("miss").Inc()
	}

	value, err = load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, value); err != nil {
		zapctx.Warn(ctx, "Session cache write failed", zap.Error(err), zap.String("key", key))
	}
	return value, nil
}

// Memory holds the most recent session view with a TTL.
type Memory struct {
	mu       sync.RWMutex
	key      string
	value    []sessions.Session
	cachedAt time.Time
	ttl      time.Duration
	now      func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]sessions.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.value == nil || m.key != key || m.now().Sub(m.cachedAt) >= m.ttl {
		return nil, false, nil
	}
	return m.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []sessions.Session) error {
	if value == nil {
		value = []sessions.Session{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.key = key
	m.value = value
	m.cachedAt = m.now()
	return nil
}
