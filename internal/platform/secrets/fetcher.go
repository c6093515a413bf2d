// Package secrets resolves secret:// references against Google Secret Manager, with a local
// file for development machines that have no Cloud credentials.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	instrumentationName = "github.com/solarshop/api/internal/platform/secrets"
	environmentEnv      = "API_SECURITY_ENVIRONMENT"
)

type source string

const (
	fromCache  source = "cache"
	fromRemote source = "remote"
	fromLocal  source = "fallback"
	failed     source = "error"
)

// ErrNotFound is returned when no source holds the referenced secret.
var ErrNotFound = errors.New("secrets: secret not found")

// AccessClient is the subset of the Secret Manager client the fetcher calls.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var dialSecretManager = func(ctx context.Context, opts ...option.ClientOption) (AccessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves references and caches the values it finds.
type Fetcher struct {
	remote      AccessClient
	closeRemote bool
	local       *localFile
	logger      *zap.Logger
	clock       func() time.Time

	environment string
	project     string
	projects    map[string]string
	ttl         time.Duration

	mu     sync.Mutex
	cached map[string]cachedValue

	fetchDuration metric.Float64Histogram
	cacheHits     metric.Int64Counter
}

type cachedValue struct {
	value   string
	expires time.Time
}

type settings struct {
	logger      *zap.Logger
	environment string
	project     string
	projects    map[string]string
	localPath   string
	ttl         time.Duration
	meter       metric.Meter
	remote      AccessClient
	clientOpts  []option.ClientOption
	clock       func() time.Time
}

// Option configures a Fetcher.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects which WithProjectMap entry applies. It defaults to
// API_SECURITY_ENVIRONMENT, then "local".
func WithEnvironment(env string) Option {
	return func(s *settings) { s.environment = normaliseKey(env) }
}

// WithDefaultProject is the project used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(s *settings) {
		s.projects = make(map[string]string, len(projects))
		for env, id := range projects {
			s.projects[normaliseKey(env)] = strings.TrimSpace(id)
		}
	}
}

// WithFallbackFile points at the developer secrets file. The default is .secrets.local in the
// working directory; an empty path disables it.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.localPath = path }
}

// WithCacheTTL sets how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMeter records fetch metrics on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient supplies the client. The fetcher does not close it.
func WithSecretManagerClient(client AccessClient) Option {
	return func(s *settings) { s.remote = client }
}

// WithClientOptions is forwarded to the Secret Manager client the fetcher dials itself.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithClock replaces time.Now for cache expiry and latency measurement.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewFetcher builds a Fetcher. When Secret Manager cannot be dialled the fetcher still works
// from the fallback file, which is how local development runs.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:      zap.NewNop(),
		environment: normaliseKey(os.Getenv(environmentEnv)),
		localPath:   ".secrets.local",
		ttl:         10 * time.Minute,
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.environment == "" {
		s.environment = "local"
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	f := &Fetcher{
		remote:      s.remote,
		local:       newLocalFile(s.localPath),
		logger:      s.logger,
		clock:       s.clock,
		environment: s.environment,
		project:     s.project,
		projects:    s.projects,
		ttl:         s.ttl,
		cached:      make(map[string]cachedValue),
	}
	f.registerMetrics(s.meter)

	if f.remote == nil {
		client, err := dialSecretManager(ctx, s.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, serving fallback file only", zap.Error(err))
			return f, nil
		}
		f.remote, f.closeRemote = client, true
	}
	return f, nil
}

func (f *Fetcher) registerMetrics(meter metric.Meter) {
	var err error
	f.fetchDuration, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"))
	if err != nil {
		f.logger.Warn("register latency histogram", zap.Error(err))
	}
	f.cacheHits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions answered from the in-memory cache"))
	if err != nil {
		f.logger.Warn("register cache hit counter", zap.Error(err))
	}
}

// Close closes the Secret Manager client if the fetcher dialled it.
func (f *Fetcher) Close() error {
	if f == nil || !f.closeRemote || f.remote == nil {
		return nil
	}
	return f.remote.Close()
}

// Resolve returns the value behind raw. Lookup order is the cache, then Secret Manager, then
// the fallback file. The fallback file is consulted after a remote failure only when the
// failure looks like missing credentials or an outage; a secret Secret Manager reports as
// missing stays missing.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	began := f.clock()
	ref, err := ParseRef(raw)
	if err != nil {
		return "", err
	}

	if value, ok := f.fromCache(ref); ok {
		f.observe(ctx, began, fromCache)
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.fingerprint())))
		}
		return value, nil
	}

	if projectID := f.projectFor(ref); f.remote != nil && projectID != "" {
		value, err := f.access(ctx, ref.resource(projectID))
		switch {
		case err == nil:
			f.remember(ref, value)
			f.observe(ctx, began, fromRemote)
			return value, nil
		case !recoverable(err):
			f.observe(ctx, began, failed)
			return "", fmt.Errorf("secrets: resolve %s: %w", ref, err)
		}
		f.logger.Debug("secret manager unreachable, trying fallback file",
			zap.Stringer("ref", ref), zap.Error(err))
	}

	value, ok, err := f.local.get(ref)
	if err != nil {
		f.logger.Warn("fallback file unreadable", zap.Error(err))
	}
	if !ok {
		f.observe(ctx, began, failed)
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	f.remember(ref, value)
	f.observe(ctx, began, fromLocal)
	return value, nil
}

// Invalidate forgets the cached value for raw.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseRef(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cached, ref.key())
	f.mu.Unlock()
}

func (f *Fetcher) fromCache(ref Ref) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cached[ref.key()]
	if !ok {
		return "", false
	}
	if !f.clock().Before(entry.expires) {
		delete(f.cached, ref.key())
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) remember(ref Ref, value string) {
	f.mu.Lock()
	f.cached[ref.key()] = cachedValue{value: value, expires: f.clock().Add(f.ttl)}
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.remote.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("secret manager returned no payload for %s", name)
	}
	return string(payload.GetData()), nil
}

func (f *Fetcher) projectFor(ref Ref) string {
	switch {
	case ref.Project != "":
		return ref.Project
	case f.projects[f.environment] != "":
		return f.projects[f.environment]
	default:
		return f.project
	}
}

func (f *Fetcher) observe(ctx context.Context, began time.Time, src source) {
	if f.fetchDuration == nil {
		return
	}
	ms := float64(f.clock().Sub(began)) / float64(time.Millisecond)
	f.fetchDuration.Record(ctx, ms, metric.WithAttributes(
		attribute.String("source", string(src)),
		attribute.Bool("error", src == failed),
	))
}

// recoverable reports remote failures that the fallback file may paper over.
func recoverable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func normaliseKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
