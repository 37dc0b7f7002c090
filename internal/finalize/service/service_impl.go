package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/fieldline/fieldline/internal/clock"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/internal/config"
	finalizedomain "github.com/fieldline/fieldline/internal/finalize/domain"
	obsmetrics "github.com/fieldline/fieldline/internal/observability/metrics"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const maxBackoff = 30 * time.Second

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

	// sleep is swapped out in tests so retries run without wall-clock delay.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(p Params) finalizedomain.Service {
	return &Service{
		log:      p.Log.Named("finalize.service"),
		clock:    p.Clock,
		holder:   p.Holder,
		packRepo: p.PackRepo,
		compSvc:  p.CompSvc,
		metrics:  p.Metrics,
		sleep:    sleepContext,
	}
}

// Finalize retries the conditional commit until it lands or the attempt
// budget runs out. The reservation never stays silently pending: exhaustion
// escalates it to the compensation queue and marks it compensating in the
// same pass, using a context detached from the caller so a cancelled request
// cannot lose the escalation.
func (s *Service) Finalize(ctx context.Context, reservation *packdomain.Reservation) (finalizedomain.Result, error) {
	policy := s.holder.Get().Finalize

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		outcome, err := s.packRepo.CommitReservation(ctx, reservation.ID, s.clock.Now())
		if err == nil {
			s.metrics.RecordFinalizeAttempt(ctx, "success")
			if outcome == packdomain.CommitNoop {
				s.log.Debug("finalize found reservation already committed",
					zap.Int64("reservation_id", reservation.ID.Int64()),
				)
			}
			return finalizedomain.Result{Success: true, Attempts: attempt}, nil
		}

		if errors.Is(err, packdomain.ErrReservationResolved) || errors.Is(err, packdomain.ErrReservationNotFound) {
			// Not a storage fault: the reservation is in a state commit can
			// never succeed from. Retrying cannot help.
			return finalizedomain.Result{Attempts: attempt}, err
		}

		lastErr = err
		s.metrics.RecordFinalizeAttempt(ctx, "failure")
		s.log.Warn("finalize attempt failed",
			zap.Int64("reservation_id", reservation.ID.Int64()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err),
		)

		if attempt < policy.MaxAttempts {
			if err := s.sleep(ctx, backoff(policy.BaseDelay(), attempt)); err != nil {
				break
			}
		}
	}

	return s.escalate(ctx, reservation, policy, lastErr)
}

func (s *Service) escalate(ctx context.Context, reservation *packdomain.Reservation, policy config.FinalizeConfig, cause error) (finalizedomain.Result, error) {
	// The caller's deadline must not abort the escalation writes.
	detached := context.WithoutCancel(ctx)

	record := &compdomain.CompensationRecord{
		ReservationID: reservation.ID,
		TenantID:      reservation.TenantID,
		ResourceType:  reservation.ResourceType,
		Attempts:      policy.MaxAttempts,
		Reason:        "finalize_retries_exhausted",
	}
	if cause != nil {
		record.Metadata = datatypes.JSONMap{"last_error": cause.Error()}
	}
	if _, err := s.compSvc.Enqueue(detached, record); err != nil {
		s.log.Error("failed to enqueue compensation record",
			zap.Int64("reservation_id", reservation.ID.Int64()),
			zap.Bool("billing_error", true),
			zap.Error(err),
		)
	}

	if _, err := s.packRepo.MarkCompensating(detached, reservation.ID, policy.MaxAttempts, s.clock.Now()); err != nil {
		s.log.Error("failed to mark reservation compensating",
			zap.Int64("reservation_id", reservation.ID.Int64()),
			zap.Bool("billing_error", true),
			zap.Error(err),
		)
	}

	s.metrics.RecordFinalizeEscalation(detached)

	result := finalizedomain.Result{Success: false, Attempts: policy.MaxAttempts}
	billingErr := &finalizedomain.BillingError{
		ReservationID: reservation.ID,
		Attempts:      policy.MaxAttempts,
		Err:           errors.Join(finalizedomain.ErrFinalizePersistent, cause),
	}
	s.log.Error("finalize exhausted retries",
		zap.Int64("reservation_id", reservation.ID.Int64()),
		zap.Int64("tenant_id", reservation.TenantID.Int64()),
		zap.Int("attempts", policy.MaxAttempts),
		zap.Bool("billing_error", true),
		zap.Error(billingErr),
	)

	if !policy.FailRequestOnPersistentFailure {
		return result, nil
	}
	return result, billingErr
}

// backoff grows exponentially from the base delay and adds up to 50% jitter
// so stalled requests do not retry in lockstep.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
