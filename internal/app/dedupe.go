package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultDedupeTTL is how long a delivered event id is remembered.
	DefaultDedupeTTL = 24 * time.Hour
	// dedupeSweepInterval bounds how often expired ids are purged.
	dedupeSweepInterval = time.Minute
)

// Deduper remembers event ids. Seen marks key and reports whether it was already marked.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// MemoryDeduper keeps event ids in process memory.
type MemoryDeduper struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= min(d.ttl, dedupeSweepInterval) {
		d.sweep(now)
	}

	if ts, exists := d.seen[key]; exists && now.Sub(ts) < d.ttl {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

// sweep drops expired ids. Callers hold d.mu.
func (d *MemoryDeduper) sweep(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	d.lastSweep = now
}

// RedisDeduper keeps event ids in Redis so they survive restarts.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduper {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "settlement:event"
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	stored, err := d.client.SetNX(ctx, d.prefix+":"+key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !stored, nil
}
