package auth

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// RevocationRegistry records tokens that must be rejected even though their
// signature and expiry are still valid. Keys come from TokenKey.
//
// An entry stops counting as revoked once expiresAt has passed, and may be evicted
// from then on. Implementations must be safe for concurrent use, and a Revoke that
// returns before IsRevoked starts must be visible to it.
type RevocationRegistry interface {
	Revoke(ctx context.Context, key string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, key string) (bool, error)
}

// MemoryRegistry is a process-local RevocationRegistry. Entries are evicted in
// expiry order by Prune; there is no size-based eviction.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	queue   expiryQueue
	now     func() time.Time
}

var _ RevocationRegistry = (*MemoryRegistry)(nil)

// NewMemoryRegistry constructs an empty registry. A nil clock means time.Now.
func NewMemoryRegistry(now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Revoke marks key as revoked until expiresAt. Revoking an already expired token
// records nothing.
func (r *MemoryRegistry) Revoke(_ context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("%w: revocation key is required", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if expired(r.now(), expiresAt) {
		return nil
	}
	if current, ok := r.entries[key]; ok && !expiresAt.After(current) {
		return nil
	}
	r.entries[key] = expiresAt
	heap.Push(&r.queue, expiryItem{key: key, expiresAt: expiresAt})
	return nil
}

// IsRevoked reports whether key is revoked and not yet past its expiry.
func (r *MemoryRegistry) IsRevoked(_ context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.entries[key]
	if !ok {
		return false, nil
	}
	return !expired(r.now(), exp), nil
}

// Prune evicts entries whose expiry is before now and returns how many were removed.
func (r *MemoryRegistry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for r.queue.Len() > 0 && expired(now, r.queue[0].expiresAt) {
		item := heap.Pop(&r.queue).(expiryItem)
		// A later Revoke may have extended the entry; only the newest queue item evicts.
		if current, ok := r.entries[item.key]; ok && current.Equal(item.expiresAt) {
			delete(r.entries, item.key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Run prunes on every tick until ctx is cancelled.
func (r *MemoryRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune(r.now())
		}
	}
}

// expired compares at whole-second resolution, matching token expiry semantics.
func expired(now, expiresAt time.Time) bool {
	return now.Unix() > expiresAt.Unix()
}

type expiryItem struct {
	key       string
	expiresAt time.Time
}

type expiryQueue []expiryItem

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].expiresAt.Before(q[j].expiresAt) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiryItem)) }
func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
