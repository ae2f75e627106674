package quota

import (
	"hash/fnv"
	"sync"
	"time"
)

const storeShards = 32

// QuotaStore owns every TokenBucket and IPWindow. The map is sharded by key
// hash so unrelated identities never contend on one lock, and each entry
// carries its own mutex which is held for the whole refill+check+consume
// sequence. That per-entry lock is the unit of atomicity: two concurrent
// requests for the same identity serialize on it, so a token can never be
// spent twice.
type QuotaStore struct {
	users [storeShards]*userShard
	ips   [storeShards]*ipShard
}

type userShard struct {
	mu      sync.RWMutex
	entries map[string]*userEntry
}

type userEntry struct {
	mu     sync.Mutex
	bucket *TokenBucket
}

type ipShard struct {
	mu      sync.RWMutex
	entries map[string]*ipEntry
}

type ipEntry struct {
	mu     sync.Mutex
	window *IPWindow
}

func NewQuotaStore() *QuotaStore {
	s := &QuotaStore{}
	for i := 0; i < storeShards; i++ {
		s.users[i] = &userShard{entries: make(map[string]*userEntry)}
		s.ips[i] = &ipShard{entries: make(map[string]*ipEntry)}
	}
	return s
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % storeShards)
}

// WithBucket runs fn on the identity's bucket under its entry lock, creating
// the bucket via create on first sight. It reports whether the bucket already
// existed (a cache hit for the metrics).
func (s *QuotaStore) WithBucket(identity string, create func() *TokenBucket, fn func(b *TokenBucket)) (hit bool) {
	shard := s.users[shardIndex(identity)]

	shard.mu.RLock()
	entry, ok := shard.entries[identity]
	shard.mu.RUnlock()

	if !ok {
		shard.mu.Lock()
		// Double-check after acquiring the write lock.
		entry, ok = shard.entries[identity]
		if !ok {
			entry = &userEntry{bucket: create()}
			shard.entries[identity] = entry
		}
		shard.mu.Unlock()
	}

	entry.mu.Lock()
	fn(entry.bucket)
	entry.mu.Unlock()

	return ok
}

// ViewBucket runs fn on an existing bucket under its entry lock. It returns
// false when the identity is unknown.
func (s *QuotaStore) ViewBucket(identity string, fn func(b *TokenBucket)) bool {
	shard := s.users[shardIndex(identity)]

	shard.mu.RLock()
	entry, ok := shard.entries[identity]
	shard.mu.RUnlock()

	if !ok {
		return false
	}

	entry.mu.Lock()
	fn(entry.bucket)
	entry.mu.Unlock()
	return true
}

// DeleteBucket removes an identity's bucket entirely. It takes the entry lock
// first so an in-flight consumption finishes before the entry disappears.
func (s *QuotaStore) DeleteBucket(identity string) bool {
	shard := s.users[shardIndex(identity)]

	shard.mu.Lock()
	entry, ok := shard.entries[identity]
	if !ok {
		shard.mu.Unlock()
		return false
	}
	entry.mu.Lock()
	delete(shard.entries, identity)
	entry.mu.Unlock()
	shard.mu.Unlock()
	return true
}

// WithWindow runs fn on the IP's window under its entry lock, creating the
// window via create on first sight. It reports whether the window already
// existed; a freshly created window has the first request's cost baked in,
// so fn is only run on existing windows.
func (s *QuotaStore) WithWindow(ip string, create func() *IPWindow, fn func(w *IPWindow)) (hit bool) {
	shard := s.ips[shardIndex(ip)]

	shard.mu.RLock()
	entry, ok := shard.entries[ip]
	shard.mu.RUnlock()

	if !ok {
		shard.mu.Lock()
		entry, ok = shard.entries[ip]
		if !ok {
			shard.entries[ip] = &ipEntry{window: create()}
			shard.mu.Unlock()
			return false
		}
		shard.mu.Unlock()
	}

	entry.mu.Lock()
	fn(entry.window)
	entry.mu.Unlock()
	return true
}

// UserCount reports the number of tracked identities. Shard counts are read
// independently, so the total is a snapshot, not an exact point-in-time size.
func (s *QuotaStore) UserCount() int {
	n := 0
	for _, shard := range s.users {
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}

// IPCount reports the number of tracked client IPs.
func (s *QuotaStore) IPCount() int {
	n := 0
	for _, shard := range s.ips {
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}

// Sweep removes entries idle for longer than retention. Entry locks are taken
// before removal so a sweep never races an in-flight consumption.
func (s *QuotaStore) Sweep(retention time.Duration, now time.Time) int {
	threshold := now.Add(-retention)
	removed := 0

	for _, shard := range s.users {
		shard.mu.Lock()
		for identity, entry := range shard.entries {
			entry.mu.Lock()
			stale := entry.bucket.LastSeen.Before(threshold)
			entry.mu.Unlock()
			if stale {
				delete(shard.entries, identity)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	for _, shard := range s.ips {
		shard.mu.Lock()
		for ip, entry := range shard.entries {
			entry.mu.Lock()
			stale := entry.window.LastSeen.Before(threshold)
			entry.mu.Unlock()
			if stale {
				delete(shard.entries, ip)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	return removed
}
