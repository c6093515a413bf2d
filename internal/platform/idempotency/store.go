// Package idempotency replays the stored response when a client retries a mutating request
// with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key and its response are kept.
const DefaultTTL = 24 * time.Hour

// State is the outcome of claiming a key.
type State int

const (
	// StateClaimed means the caller owns the key and must run the handler.
	StateClaimed State = iota
	// StateReplay means a completed response exists and must be replayed.
	StateReplay
	// StateInFlight means another request holds the key and has not finished.
	StateInFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

// Entry is the persisted state of one key.
type Entry struct {
	Key         string              `json:"key"`
	Fingerprint string              `json:"fingerprint"`
	Completed   bool                `json:"completed"`
	Status      int                 `json:"status,omitempty"`
	Header      map[string][]string `json:"header,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is the handler output captured for replay.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists keys and responses.
type Store interface {
	// Claim reserves key for fingerprint, or reports the existing entry.
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error)
	// Complete stores the response for a claimed key.
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	// Abandon drops a claim so the client can retry.
	Abandon(ctx context.Context, key string) error
	// Purge deletes up to limit expired entries and reports how many were removed.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func pendingEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

func completedEntry(prev Entry, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) Entry {
	created := prev.CreatedAt
	if created.IsZero() {
		created = now
	}
	return Entry{
		Key:         key,
		Fingerprint: fingerprint,
		Completed:   true,
		Status:      resp.Status,
		Header:      replayableHeader(resp.Header),
		Body:        append([]byte(nil), resp.Body...),
		CreatedAt:   created,
		ExpiresAt:   now.Add(ttl),
	}
}

// documentID hashes the scoped key so it is safe as a Firestore id or Redis key.
func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

var hopByHop = map[string]struct{}{
	"Connection": {}, "Content-Length": {}, "Date": {}, "Keep-Alive": {}, "Proxy-Authenticate": {},
	"Proxy-Authorization": {}, "Te": {}, "Trailer": {}, "Transfer-Encoding": {}, "Upgrade": {},
}

func replayableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopByHop[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
