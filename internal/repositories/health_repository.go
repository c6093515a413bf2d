package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/solarshop/api/internal/domain"
)

// DependencyCheck probes one backing service for readiness. A failing Optional dependency
// degrades the report instead of failing it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// DependencyHealthOption configures NewDependencyHealthRepository.
type DependencyHealthOption func(*dependencyHealth)

// WithDependencyTimeout applies to checks that set no Timeout. The default is 1.5s.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if timeout > 0 {
			h.fallbackTimeout = timeout
		}
	}
}

// WithDependencyClock replaces time.Now.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if clock != nil {
			h.clock = clock
		}
	}
}

type dependencyHealth struct {
	checks          []DependencyCheck
	fallbackTimeout time.Duration
	clock           func() time.Time
}

var _ HealthRepository = (*dependencyHealth)(nil)

// NewDependencyHealthRepository probes checks concurrently on every Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for i, c := range checks {
		switch {
		case strings.TrimSpace(c.Name) == "":
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		case c.Check == nil:
			return nil, fmt.Errorf("health repository: check %q has no probe", c.Name)
		}
	}

	h := &dependencyHealth{
		checks:          append([]DependencyCheck(nil), checks...),
		fallbackTimeout: 1500 * time.Millisecond,
		clock:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *dependencyHealth) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	results := make([]domain.SystemHealthCheck, len(h.checks))
	var g errgroup.Group
	for i := range h.checks {
		g.Go(func() error {
			results[i] = h.run(ctx, h.checks[i])
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Checks:      make(map[string]domain.SystemHealthCheck, len(results)),
		GeneratedAt: h.clock(),
	}
	statuses := make([]string, len(results))
	for i, result := range results {
		report.Checks[h.checks[i].Name] = result
		statuses[i] = result.Status
	}
	report.Status = domain.WorstHealthStatus(statuses...)
	return report, nil
}

func (h *dependencyHealth) run(ctx context.Context, c DependencyCheck) domain.SystemHealthCheck {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = h.fallbackTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	began := h.clock()
	err := c.Check(ctx)
	if err == nil {
		// A probe that ignores ctx and returns late still counts as failed.
		err = ctx.Err()
	}
	finished := h.clock()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(began),
		CheckedAt: finished,
	}
	if err == nil {
		return result
	}

	result.Error = err.Error()
	result.Detail = failureDetail(err)
	result.Status = domain.HealthStatusError
	if c.Optional {
		result.Status = domain.HealthStatusDegraded
	}
	return result
}

func failureDetail(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
