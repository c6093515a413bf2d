package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/solarshop/api/internal/domain"
	"github.com/solarshop/api/internal/repositories"
)

// BuildInfo describes the deployed binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires NewSystemService.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Build  BuildInfo
	Clock  func() time.Time
}

type systemService struct {
	health repositories.HealthRepository
	build  BuildInfo
	now    func() time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService reports dependency health together with build metadata.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := time.Now
	if deps.Clock != nil {
		now = deps.Clock
	}
	svc := &systemService{
		health: deps.Health,
		build:  deps.Build,
		now:    func() time.Time { return now().UTC() },
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport runs the dependency checks. Fields the health repository leaves empty are
// filled from the build metadata, and a missing overall status is derived from the checks.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()

	report.GeneratedAt = orTime(report.GeneratedAt, now).UTC()
	report.Version = orString(report.Version, s.build.Version)
	report.CommitSHA = orString(report.CommitSHA, s.build.CommitSHA)
	report.Environment = orString(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck)
	}
	if report.Status == "" {
		report.Status = worstStatus(report.Checks)
	}
	return report, nil
}

func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	statuses := make([]string, 0, len(checks))
	for _, check := range checks {
		statuses = append(statuses, check.Status)
	}
	return domain.WorstHealthStatus(statuses...)
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orTime(v, fallback time.Time) time.Time {
	if v.IsZero() {
		return fallback
	}
	return v
}
