// Package ratelimit enforces a per-key cooldown between accepted requests.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

type Limiter interface {
	// Allow reports whether key may proceed now. An accepted call starts a new
	// cooldown for key; a rejected one does not extend it.
	Allow(ctx context.Context, key string, cooldown time.Duration) (bool, error)
}

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// Memory is an in-process limiter sharded by key hash.
type Memory struct {
	shards [shardCount]*shard
	now    func() time.Time
}

func NewMemory() *Memory {
	m := &Memory{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{lastSeen: make(map[string]time.Time)}
	}
	return m
}

func (m *Memory) Allow(_ context.Context, key string, cooldown time.Duration) (bool, error) {
	s := m.shardFor(key)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSeen[key]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	s.lastSeen[key] = now
	return true, nil
}

// Sweep forgets keys not seen within maxAge.
func (m *Memory) Sweep(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, last := range s.lastSeen {
			if last.Before(cutoff) {
				delete(s.lastSeen, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (m *Memory) Run(ctx context.Context, every, maxAge time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep(maxAge)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}
