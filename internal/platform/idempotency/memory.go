package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds entries in process memory. The zero value is ready to use; entries do
// not survive a restart and are not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

// locked runs fn with the entry map held, allocating it on first use.
func (s *MemoryStore) locked(fn func(entries map[string]Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]Entry{}
	}
	fn(s.entries)
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (state State, entry Entry, err error) {
	s.locked(func(entries map[string]Entry) {
		id := documentID(key)
		current, ok := entries[id]
		if ok && !current.expired(now.UTC()) {
			state, entry, err = classify(current, fingerprint)
			return
		}
		entry = pendingEntry(key, fingerprint, now.UTC(), normaliseTTL(ttl))
		entries[id] = entry
		state = StateClaimed
	})
	return state, entry, err
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (err error) {
	s.locked(func(entries map[string]Entry) {
		id := documentID(key)
		claimed, ok := entries[id]
		if ok && claimed.Fingerprint != fingerprint {
			err = ErrFingerprintMismatch
			return
		}
		entries[id] = completedEntry(claimed, key, fingerprint, resp, now.UTC(), normaliseTTL(ttl))
	})
	return err
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.locked(func(entries map[string]Entry) { delete(entries, documentID(key)) })
	return nil
}

// Purge removes expired entries, oldest expiry first.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (removed int, _ error) {
	s.locked(func(entries map[string]Entry) {
		var stale []string
		for id, e := range entries {
			if e.expired(now.UTC()) {
				stale = append(stale, id)
			}
		}
		sort.Slice(stale, func(i, j int) bool {
			return entries[stale[i]].ExpiresAt.Before(entries[stale[j]].ExpiresAt)
		})
		if limit > 0 && len(stale) > limit {
			stale = stale[:limit]
		}
		for _, id := range stale {
			delete(entries, id)
		}
		removed = len(stale)
	})
	return removed, nil
}

// classify turns a live entry into the outcome of a claim by fingerprint.
func classify(entry Entry, fingerprint string) (State, Entry, error) {
	switch {
	case entry.Fingerprint != fingerprint:
		return 0, Entry{}, ErrFingerprintMismatch
	case entry.Completed:
		return StateReplay, entry, nil
	default:
		return StateInFlight, entry, nil
	}
}
