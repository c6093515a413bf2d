// Package requestctx carries the per-request logger and Cloud Trace span from middleware
// down to handlers and services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

var discard = zap.NewNop()

// TraceInfo identifies the Cloud Trace span of a request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Resource is the value Cloud Logging expects in logging.googleapis.com/trace, or "" when
// the project or trace is unknown.
func (t TraceInfo) Resource() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.ProjectID + "/traces/" + t.TraceID
}

// scope is everything this package keeps on a context. It is copied on write so a child
// context never changes what its parent sees.
type scope struct {
	logger   *zap.Logger
	trace    TraceInfo
	hasTrace bool
}

type scopeKey struct{}

func scopeOf(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func withScope(ctx context.Context, edit func(*scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := scopeOf(ctx)
	edit(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithLogger attaches logger to ctx. Passing nil attaches a no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = discard
	}
	return withScope(ctx, func(s *scope) { s.logger = logger })
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if l := scopeOf(ctx).logger; l != nil {
		return l
	}
	return discard
}

// IsNop reports whether logger is nil or the no-op logger handed out by Logger.
func IsNop(logger *zap.Logger) bool {
	return logger == nil || logger == discard
}

// WithTrace attaches the span of the current request.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return withScope(ctx, func(s *scope) { s.trace, s.hasTrace = info, true })
}

// Trace returns the span set by WithTrace.
func Trace(ctx context.Context) (TraceInfo, bool) {
	s := scopeOf(ctx)
	return s.trace, s.hasTrace
}

// TraceID is shorthand for the trace id of ctx, "" when unset.
func TraceID(ctx context.Context) string {
	return scopeOf(ctx).trace.TraceID
}
