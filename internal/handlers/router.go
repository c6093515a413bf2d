package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solarshop/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	groupOrders   = "orders"
	groupPayHere  = "payhere"
	groupInternal = "internal"

	defaultBasePath       = "/v1"
	defaultRequestTimeout = 60 * time.Second
)

// routeGroup is one mounted sub-tree under the API base path. Groups without a registrar
// answer 501 so clients can tell a missing deployment from a bad URL.
type routeGroup struct {
	name        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      []*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	for _, g := range c.groups {
		if g.name == name {
			return g
		}
	}
	g := &routeGroup{name: name}
	c.groups = append(c.groups, g)
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: probes at the root, then the order, gateway and internal
// groups under /v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		basePath: defaultBasePath,
		timeout:  defaultRequestTimeout,
	}
	for _, name := range []string{groupOrders, groupPayHere, groupInternal} {
		cfg.group(name)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.CleanPath, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, g := range cfg.groups {
			g := g
			api.Route("/"+g.name, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					notImplemented(sub, g.name)
					return
				}
				g.registrar(sub)
			})
		}
	})

	return r
}

// WithBasePath mounts the API groups under prefix instead of /v1.
func WithBasePath(prefix string) Option {
	return func(cfg *routerConfig) {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "/" {
			cfg.basePath = prefix
		}
	}
}

// WithRequestTimeout caps how long a handler may run before its context is cancelled.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithMiddlewares appends global middleware, applied after request id and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts the customer order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupOrders, reg)
}

// WithPayHereRoutes mounts the PayHere notify and cancel callbacks.
func WithPayHereRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupPayHere, reg)
}

// WithPayHereMiddlewares wraps the /payhere group only.
func WithPayHereMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupPayHere, mw)
}

// WithInternalRoutes mounts the scheduler-driven maintenance endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupInternal, reg)
}

// WithInternalMiddlewares wraps the /internal group only, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

func withRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

func withGroupMiddlewares(name string, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
