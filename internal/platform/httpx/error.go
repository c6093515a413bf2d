// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/solarshop/api/internal/platform/requestctx"
)

// DefaultBodyLimit applies when ReadLimitedBody is given no positive limit.
const DefaultBodyLimit int64 = 64 << 10

// ErrBodyTooLarge means the request body exceeded its limit.
var ErrBodyTooLarge = errors.New("request body too large")

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
	maxTraceLen   = 64
)

// Error is rendered as {"error": code, "message": ..., "status": ...} plus any details.
// Request and trace ids are added when known.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError returns an envelope with single-line, length-capped text. Status 0 means 500.
func NewError(code, message string, status int) Error {
	e := Error{Code: sanitize(code, maxCodeLen), Message: sanitize(message, maxMessageLen), Status: status}
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	return e
}

// WithDetails returns a copy of e with details added as extra top-level fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

func (e Error) body() map[string]any {
	out := make(map[string]any, len(e.Details)+5)
	maps.Copy(out, e.Details)
	out["error"], out["message"], out["status"] = e.Code, e.Message, e.Status
	if e.RequestID != "" {
		out["request_id"] = e.RequestID
	}
	if e.TraceID != "" {
		out["trace_id"] = e.TraceID
	}
	return out
}

// WriteError writes e, taking the request id from chi and the trace id from ctx when e
// carries neither.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	if e.RequestID == "" {
		e.RequestID = sanitize(middleware.GetReqID(ctx), maxIDLen)
	}
	if e.TraceID == "" {
		e.TraceID = sanitize(requestctx.TraceID(ctx), maxTraceLen)
	}
	WriteJSON(w, e.Status, e.body())
}

// WriteJSON sets the content type, writes status and encodes payload. A nil payload leaves
// the body empty.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// ReadLimitedBody returns the request body, or ErrBodyTooLarge once it exceeds limit bytes.
func ReadLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	// One byte past the limit distinguishes "exactly limit" from "too large".
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	switch {
	case err != nil:
		return nil, fmt.Errorf("read body: %w", err)
	case int64(len(data)) > limit:
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func sanitize(s string, limit int) string {
	s = strings.TrimSpace(lineBreaks.Replace(s))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
