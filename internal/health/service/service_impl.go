package service

import (
	"context"
	"fmt"

	"github.com/fieldline/fieldline/internal/clock"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/internal/config"
	healthdomain "github.com/fieldline/fieldline/internal/health/domain"
	obsmetrics "github.com/fieldline/fieldline/internal/observability/metrics"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxReportedCompensations caps how many backlog entries the report names
// individually; the rest collapse into a count.
const maxReportedCompensations = 20

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Holder   *config.ProtectionConfigHolder
	PackRepo packdomain.Repository
	CompSvc  compdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	holder   *config.ProtectionConfigHolder
	packRepo packdomain.Repository
	compSvc  compdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) healthdomain.Service {
	return &Service{
		log:      p.Log.Named("health.service"),
		clock:    p.Clock,
		holder:   p.Holder,
		packRepo: p.PackRepo,
		compSvc:  p.CompSvc,
		metrics:  p.Metrics,
	}
}

// Report derives the status from live counts. Unresolved compensations or a
// reservation stuck pending past the stale threshold are critical; a finalize
// success rate under the configured floor is degraded.
func (s *Service) Report(ctx context.Context) (healthdomain.Report, error) {
	policy := s.holder.Get().Health
	now := s.clock.Now()

	resolved, err := s.packRepo.CountResolvedSince(ctx, now.Add(-policy.Window()))
	if err != nil {
		return healthdomain.Report{}, err
	}
	pending, err := s.packRepo.PendingStats(ctx)
	if err != nil {
		return healthdomain.Report{}, err
	}
	queueSize, err := s.compSvc.CountUnresolved(ctx)
	if err != nil {
		return healthdomain.Report{}, err
	}

	successRate := 1.0
	if total := resolved.Committed + resolved.Compensating; total > 0 {
		successRate = float64(resolved.Committed) / float64(total)
	}

	report := healthdomain.Report{
		Status:      healthdomain.StatusHealthy,
		GeneratedAt: now,
		Metrics: healthdomain.Metrics{
			SuccessRate:           successRate,
			CriticalFailures:      resolved.Compensating,
			PendingReservations:   pending.Count,
			CompensationQueueSize: queueSize,
		},
	}
	if pending.Oldest != nil {
		report.Metrics.OldestPendingAge = now.Sub(*pending.Oldest)
	}

	if successRate < policy.DegradedSuccessRate {
		report.Status = healthdomain.StatusDegraded
		report.Issues = append(report.Issues,
			fmt.Sprintf("finalize success rate %.4f below %.4f", successRate, policy.DegradedSuccessRate))
	}
	if queueSize > 0 {
		report.Status = healthdomain.StatusCritical
		records, err := s.compSvc.ListUnresolved(ctx, maxReportedCompensations)
		if err != nil {
			return healthdomain.Report{}, err
		}
		for _, record := range records {
			report.Issues = append(report.Issues,
				fmt.Sprintf("reservation %d awaiting manual reconciliation (%s)",
					record.ReservationID.Int64(), record.Reason))
		}
		if extra := queueSize - int64(len(records)); extra > 0 {
			report.Issues = append(report.Issues,
				fmt.Sprintf("%d more unresolved compensation records", extra))
		}
	}
	if pending.Oldest != nil && report.Metrics.OldestPendingAge > policy.StaleAge() {
		report.Status = healthdomain.StatusCritical
		report.Issues = append(report.Issues,
			fmt.Sprintf("oldest pending reservation age %s exceeds %s",
				report.Metrics.OldestPendingAge, policy.StaleAge()))
	}

	s.metrics.SetCompensationQueueSize(ctx, queueSize)
	if report.Status != healthdomain.StatusHealthy {
		s.log.Warn("billing protection unhealthy",
			zap.String("status", string(report.Status)),
			zap.Strings("issues", report.Issues),
		)
	}
	return report, nil
}
