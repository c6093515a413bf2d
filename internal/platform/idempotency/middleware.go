package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solarshop/api/internal/platform/auth"
	"github.com/solarshop/api/internal/platform/httpx"
	"github.com/solarshop/api/internal/platform/requestctx"
)

const (
	// DefaultHeader carries the client-chosen key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader marks responses served from the store.
	ReplayHeader = "Idempotent-Replayed"
)

type options struct {
	header   string
	ttl      time.Duration
	required bool
	now      func() time.Time
	logger   *zap.Logger
}

// Option customises Middleware.
type Option func(*options)

// WithHeader overrides the request header holding the key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithRequired rejects requests that carry no key. By default they pass through untracked.
func WithRequired(required bool) Option {
	return func(o *options) { o.required = required }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the fallback logger for store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Middleware guards a mutating route. Keys are scoped to the authenticated caller, and a
// key reused with a different body is rejected with 409.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := options{header: DefaultHeader, ttl: DefaultTTL, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestctx.Logger(ctx)
			if requestctx.IsNop(logger) {
				logger = o.logger
			}

			key := strings.TrimSpace(r.Header.Get(o.header))
			if key == "" {
				if o.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+o.header+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", o.header+" is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller := callerID(r)
			scoped := caller + "|" + key
			fingerprint := fingerprintOf(r, caller, body)

			state, entry, err := store.Claim(ctx, scoped, fingerprint, o.now(), o.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch state {
			case StateReplay:
				replay(w, entry)
				return
			case StateInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still processing", http.StatusConflict))
				return
			}

			rec := &bufferedWriter{header: make(http.Header)}
			completed := false
			defer func() {
				if !completed {
					if err := store.Abandon(ctx, scoped); err != nil {
						logger.Warn("idempotency abandon failed", zap.Error(err))
					}
				}
			}()
			next.ServeHTTP(rec, r)
			completed = true

			resp := Response{Status: rec.statusCode(), Header: rec.header, Body: rec.body.Bytes()}
			if err := store.Complete(ctx, scoped, fingerprint, resp, o.now(), o.ttl); err != nil {
				logger.Warn("idempotency complete failed", zap.Error(err))
				if err := store.Abandon(ctx, scoped); err != nil {
					logger.Warn("idempotency abandon failed", zap.Error(err))
				}
			}
			rec.flushTo(w)
		})
	}
}

func callerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, caller string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, r.URL.RawQuery, caller} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

// bufferedWriter holds the handler output until it has been stored.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
