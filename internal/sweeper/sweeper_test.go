package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldline/fieldline/internal/clock"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/internal/config"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"github.com/fieldline/fieldline/internal/pack/memstore"
	packservice "github.com/fieldline/fieldline/internal/pack/service"
	"go.uber.org/zap"
)

type compListStub struct {
	records []compdomain.CompensationRecord
}

func (c *compListStub) Enqueue(_ context.Context, r *compdomain.CompensationRecord) (*compdomain.CompensationRecord, error) {
	return r, nil
}
func (c *compListStub) ListUnresolved(context.Context, int) ([]compdomain.CompensationRecord, error) {
	return c.records, nil
}
func (c *compListStub) Resolve(context.Context, snowflake.ID, string, string) error { return nil }
func (c *compListStub) CountUnresolved(context.Context) (int64, error) {
	return int64(len(c.records)), nil
}

func TestRunOnceReleasesOnlyStaleReservations(t *testing.T) {
	node := mustNode(t)
	store := memstore.New()
	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	tenantID := node.Generate()
	packID := node.Generate()
	store.AddPack(packdomain.Pack{
		ID:             packID,
		TenantID:       tenantID,
		ResourceType:   "dispatch",
		TotalUnits:     5,
		RemainingUnits: 5,
		PurchasedAt:    fc.Now(),
	})

	packSvc := packservice.NewService(packservice.Params{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  store,
	})

	ctx := context.Background()
	stale, err := packSvc.Reserve(ctx, tenantID, "dispatch")
	if err != nil {
		t.Fatalf("reserve stale: %v", err)
	}
	fc.Advance(16 * time.Minute)
	fresh, err := packSvc.Reserve(ctx, tenantID, "dispatch")
	if err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	sweeper, err := New(Params{
		Log:     zap.NewNop(),
		Clock:   fc,
		Holder:  config.NewStaticProtectionHolder(config.DefaultProtectionConfig()),
		PackSvc: packSvc,
		CompSvc: &compListStub{},
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	sweeper.RunOnce(ctx)

	staleRes, err := store.FindReservation(ctx, stale.ID)
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if staleRes.Status != packdomain.ReservationStatusReleased {
		t.Fatalf("expected stale released, got %s", staleRes.Status)
	}

	freshRes, err := store.FindReservation(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("find fresh: %v", err)
	}
	if freshRes.Status != packdomain.ReservationStatusPending {
		t.Fatalf("expected fresh untouched, got %s", freshRes.Status)
	}

	pack, err := store.FindPack(ctx, packID)
	if err != nil {
		t.Fatalf("find pack: %v", err)
	}
	if pack.RemainingUnits != 4 {
		t.Fatalf("expected 4 remaining after sweep, got %d", pack.RemainingUnits)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Params{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
