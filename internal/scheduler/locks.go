package scheduler

import (
	"context"
	"sort"
	"sync"
)

// ResourceLockManager provides per-key mutual exclusion for concurrent task execution.
// Each key gets its own one-slot semaphore, so tasks holding different keys run
// concurrently while tasks sharing a key are serialized. Acquisition honours
// context cancellation so a waiting task still respects its timeout.
type ResourceLockManager struct {
	mu    sync.Mutex               // Guards the locks map itself
	locks map[string]chan struct{} // Per-key semaphores
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]chan struct{}),
	}
}

func (r *ResourceLockManager) slot(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.locks[key]
	if !exists {
		ch = make(chan struct{}, 1)
		r.locks[key] = ch
	}
	return ch
}

// Lock acquires the lock for key, or returns the context error.
func (r *ResourceLockManager) Lock(ctx context.Context, key string) error {
	ch := r.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the lock for key. Unlocking a key that is not held is a no-op.
func (r *ResourceLockManager) Unlock(key string) {
	ch := r.slot(key)
	select {
	case <-ch:
	default:
	}
}

// LockAll acquires locks for all keys and returns a function releasing them.
// Keys are deduplicated and acquired in sorted order to prevent deadlocks.
// On failure, locks acquired so far are released.
func (r *ResourceLockManager) LockAll(ctx context.Context, keys []string) (func(), error) {
	lease, err := r.Acquire(ctx, keys)
	if err != nil {
		return func() {}, err
	}
	return func() { lease.Release() }, nil
}

// Acquire is LockAll returning a Lease, so holders can give keys back one
// group at a time.
func (r *ResourceLockManager) Acquire(ctx context.Context, keys []string) (*Lease, error) {
	lease := &Lease{mgr: r}
	for _, key := range sortedUnique(keys) {
		if err := r.Lock(ctx, key); err != nil {
			lease.Release()
			return nil, err
		}
		lease.held = append(lease.held, key)
	}
	return lease, nil
}

// Lease is a set of held keys. Each key is unlocked at most once, so a late
// Release never frees a key another holder has since acquired.
type Lease struct {
	mgr  *ResourceLockManager
	mu   sync.Mutex
	held []string
}

// Release unlocks the given keys, or every key still held when none are given.
func (l *Lease) Release(keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := func(string) bool { return true }
	if len(keys) > 0 {
		set := make(map[string]bool, len(keys))
		for _, k := range keys {
			set[k] = true
		}
		drop = func(k string) bool { return set[k] }
	}

	kept := make([]string, 0, len(l.held))
	for _, k := range l.held {
		if drop(k) {
			l.mgr.Unlock(k)
		} else {
			kept = append(kept, k)
		}
	}
	l.held = kept
}

// Held returns the keys still held, sorted.
func (l *Lease) Held() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.held...)
}

func sortedUnique(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
