// Package lock provides per-key mutual exclusion with bounded waits.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"golang.org/x/sync/semaphore"
)

// Keys are namespaced by kind so users and items never collide.
func UserKey(id int64) string { return fmt.Sprintf("user:%d", id) }
func ItemKey(id int64) string { return fmt.Sprintf("item:%d", id) }

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Manager hands out one binary semaphore per key. Entries are reference
// counted and dropped once nobody holds or waits on them.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

// Acquire locks every key in sorted order and returns a release func.
// Callers that need several classes of keys must acquire them class by class
// in a fixed order. A wait cut short by the manager timeout or by ctx yields
// domain.ErrBusy wrapping the context error, as the repository does.
func (m *Manager) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = dedupSorted(keys)

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlock(held[i])
		}
	}

	for _, key := range keys {
		e := m.ref(key)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			m.unref(key)
			release()
			return nil, fmt.Errorf("lock %s: %w: %w", key, domain.ErrBusy, err)
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Len reports how many keys are currently tracked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

func (m *Manager) unlock(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.sem.Release(1)
	m.unref(key)
}

func dedupSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
