// Package quota enforces the per-rule daily action cap.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// ErrExhausted is returned when a rule has used its daily action budget.
var ErrExhausted = errors.New("daily action quota exhausted")

// Backend is an atomic counter keyed per tenant. Counters expire so a new
// UTC day starts from zero.
type Backend interface {
	Add(ctx context.Context, tenantID, key string, delta int64, expiry time.Duration) (int64, error)
}

// Counter tracks executed actions per rule per UTC day.
// Reserve before the platform call, Release if it fails: a failed attempt
// never consumes quota, and concurrent entity evaluation cannot overshoot
// the cap because the increment itself is the check.
type Counter struct {
	backend Backend
}

// New creates a daily action counter on the given backend.
func New(backend Backend) *Counter {
	return &Counter{backend: backend}
}

// Reserve claims one action slot for the rule today. Returns ErrExhausted
// (and releases the claim) when the cap is already met.
func (c *Counter) Reserve(ctx context.Context, tenantID, ruleID string, max int) error {
	now := time.Now().UTC()
	n, err := c.backend.Add(ctx, tenantID, dayKey(ruleID, now), 1, untilMidnight(now))
	if err != nil {
		return fmt.Errorf("quota reserve: %w", err)
	}
	if n > int64(max) {
		c.Release(ctx, tenantID, ruleID)
		return ErrExhausted
	}
	return nil
}

// Release returns a previously reserved slot, e.g. after a failed
// platform call.
func (c *Counter) Release(ctx context.Context, tenantID, ruleID string) {
	now := time.Now().UTC()
	_, _ = c.backend.Add(ctx, tenantID, dayKey(ruleID, now), -1, untilMidnight(now))
}

// Used returns today's consumed quota for a rule.
func (c *Counter) Used(ctx context.Context, tenantID, ruleID string) (int64, error) {
	now := time.Now().UTC()
	return c.backend.Add(ctx, tenantID, dayKey(ruleID, now), 0, untilMidnight(now))
}

func dayKey(ruleID string, now time.Time) string {
	return "actions:" + ruleID + ":" + now.Format("2006-01-02")
}

// untilMidnight is the expiry for today's counter: the next UTC midnight,
// when the cap resets.
func untilMidnight(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return midnight.Sub(now)
}

// CacheBackend counts on the distributed cache (Redis in Pro tier).
type CacheBackend struct {
	cache domain.Cache
}

// NewCacheBackend wraps a cache as a quota backend.
func NewCacheBackend(cache domain.Cache) *CacheBackend {
	return &CacheBackend{cache: cache}
}

func (b *CacheBackend) Add(ctx context.Context, tenantID, key string, delta int64, expiry time.Duration) (int64, error) {
	return b.cache.IncrementCounter(ctx, tenantID, key, delta, expiry)
}

// StoreBackend counts in the repository so quota survives process
// restarts on the Community tier, where the cache is in-memory.
type StoreBackend struct {
	repo domain.Repository
}

// NewStoreBackend wraps the repository as a quota backend.
func NewStoreBackend(repo domain.Repository) *StoreBackend {
	return &StoreBackend{repo: repo}
}

func (b *StoreBackend) Add(ctx context.Context, tenantID, key string, delta int64, _ time.Duration) (int64, error) {
	// key is "actions:<ruleID>:<day>"; the repository stores rule and day
	// as columns.
	ruleID, day := splitDayKey(key)
	return b.repo.IncrementDailyActionCount(ctx, tenantID, ruleID, day, delta)
}

func splitDayKey(key string) (ruleID, day string) {
	// strip "actions:" prefix, day is the trailing date
	rest := key[len("actions:"):]
	if len(rest) < len("2006-01-02")+1 {
		return rest, ""
	}
	cut := len(rest) - len("2006-01-02")
	return rest[:cut-1], rest[cut:]
}
