package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	dispatchdomain "github.com/fieldline/fieldline/internal/dispatch/domain"
	finalizedomain "github.com/fieldline/fieldline/internal/finalize/domain"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"github.com/fieldline/fieldline/internal/policy"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Policy    policy.Service
	Ledger    ledgerdomain.Service
	Packs     packdomain.Service
	Finalizer finalizedomain.Service
	Executor  dispatchdomain.Executor
}

type Service struct {
	log       *zap.Logger
	policy    policy.Service
	ledger    ledgerdomain.Service
	packs     packdomain.Service
	finalizer finalizedomain.Service
	executor  dispatchdomain.Executor
}

func NewService(p Params) dispatchdomain.Service {
	return &Service{
		log:       p.Log.Named("dispatch.service"),
		policy:    p.Policy,
		ledger:    p.Ledger,
		packs:     p.Packs,
		finalizer: p.Finalizer,
		executor:  p.Executor,
	}
}

// Dispatch routes one billable action through the protection pipeline:
// policy exemption first, then plan quota, then pack reservation. The pack
// lane reserves before executing and finalizes (or releases) after, so a
// failed action never consumes a unit and a successful one is never free.
func (s *Service) Dispatch(ctx context.Context, tenantID snowflake.ID, action dispatchdomain.Action) (*dispatchdomain.Receipt, error) {
	if tenantID == 0 {
		return nil, packdomain.ErrInvalidTenant
	}
	if strings.TrimSpace(action.ResourceType) == "" {
		return nil, packdomain.ErrInvalidResource
	}

	if s.policy.Unlimited(ctx, tenantID, action.ResourceType) {
		outcome, err := s.executor.Execute(ctx, tenantID, action)
		if err != nil {
			return nil, err
		}
		return s.receipt(tenantID, action, dispatchdomain.BillingSourceUnmetered, 0, 0, outcome), nil
	}

	status, err := s.ledger.CheckQuota(ctx, tenantID, action.ResourceType)
	if err != nil {
		return nil, err
	}
	if status.Allowed {
		return s.dispatchOnPlan(ctx, tenantID, action)
	}
	return s.dispatchOnPack(ctx, tenantID, action)
}

func (s *Service) dispatchOnPlan(ctx context.Context, tenantID snowflake.ID, action dispatchdomain.Action) (*dispatchdomain.Receipt, error) {
	outcome, err := s.executor.Execute(ctx, tenantID, action)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.RecordPlanUsage(ctx, tenantID, action.ResourceType); err != nil {
		// The action already ran; usage recording is the cheaper loss here.
		s.log.Error("failed to record plan usage after action",
			zap.Int64("tenant_id", tenantID.Int64()),
			zap.String("resource_type", action.ResourceType),
			zap.Bool("billing_error", true),
			zap.Error(err),
		)
	}
	return s.receipt(tenantID, action, dispatchdomain.BillingSourcePlan, 0, 0, outcome), nil
}

func (s *Service) dispatchOnPack(ctx context.Context, tenantID snowflake.ID, action dispatchdomain.Action) (*dispatchdomain.Receipt, error) {
	reservation, err := s.packs.Reserve(ctx, tenantID, action.ResourceType)
	if err != nil {
		if errors.Is(err, packdomain.ErrNoPackAvailable) {
			return nil, dispatchdomain.ErrQuotaExhausted
		}
		return nil, err
	}

	outcome, execErr := s.executor.Execute(ctx, tenantID, action)
	if execErr != nil {
		if releaseErr := s.packs.Release(context.WithoutCancel(ctx), reservation.ID); releaseErr != nil {
			s.log.Error("failed to release reservation after action failure",
				zap.Int64("reservation_id", reservation.ID.Int64()),
				zap.Bool("billing_error", true),
				zap.Error(releaseErr),
			)
		}
		return nil, execErr
	}

	result, finalizeErr := s.finalizer.Finalize(ctx, reservation)
	if finalizeErr != nil {
		return nil, finalizeErr
	}
	return s.receipt(tenantID, action, dispatchdomain.BillingSourcePack, reservation.ID, result.Attempts, outcome), nil
}

func (s *Service) receipt(tenantID snowflake.ID, action dispatchdomain.Action, source dispatchdomain.BillingSource, reservationID snowflake.ID, attempts int, outcome *dispatchdomain.Outcome) *dispatchdomain.Receipt {
	return &dispatchdomain.Receipt{
		ID:               ulid.Make().String(),
		TenantID:         tenantID,
		ResourceType:     action.ResourceType,
		BillingSource:    source,
		ReservationID:    reservationID,
		FinalizeAttempts: attempts,
		Outcome:          outcome,
	}
}
