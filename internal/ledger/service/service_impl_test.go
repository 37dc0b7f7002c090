package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldline/fieldline/internal/clock"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	ledgerrepo "github.com/fieldline/fieldline/internal/ledger/repository"
	plandomain "github.com/fieldline/fieldline/internal/plan/domain"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type planStub struct {
	quota int64
	err   error
}

func (p *planStub) MonthlyQuota(context.Context, snowflake.ID, string) (int64, error) {
	return p.quota, p.err
}

func TestCheckQuotaUnderAndAtLimit(t *testing.T) {
	node := mustNode(t)
	svc, _, _ := setupLedgerService(t, node, &planStub{quota: 3})
	tenantID := node.Generate()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		status, err := svc.CheckQuota(ctx, tenantID, "dispatch")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !status.Allowed {
			t.Fatalf("expected allowed at %d/3 used", i)
		}
		if status.Remaining != 3-int64(i) {
			t.Fatalf("expected remaining %d, got %d", 3-i, status.Remaining)
		}
		if err := svc.RecordPlanUsage(ctx, tenantID, "dispatch"); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	status, err := svc.CheckQuota(ctx, tenantID, "dispatch")
	if err != nil {
		t.Fatalf("check at limit: %v", err)
	}
	if status.Allowed {
		t.Fatalf("expected exhausted at quota, got %+v", status)
	}
	if status.Used != 3 || status.Remaining != 0 {
		t.Fatalf("unexpected status at limit: %+v", status)
	}
}

func TestCheckQuotaWithoutPlanIsPacksOnly(t *testing.T) {
	node := mustNode(t)
	svc, _, _ := setupLedgerService(t, node, &planStub{err: plandomain.ErrNoQuotaConfigured})

	status, err := svc.CheckQuota(context.Background(), node.Generate(), "dispatch")
	if err != nil {
		t.Fatalf("expected nil error for unconfigured plan, got %v", err)
	}
	if status.Allowed {
		t.Fatalf("expected not allowed without plan quota")
	}
}

func TestRecordPlanUsageConcurrentIncrements(t *testing.T) {
	node := mustNode(t)
	svc, db, fc := setupLedgerService(t, node, &planStub{quota: 100})
	tenantID := node.Generate()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.RecordPlanUsage(context.Background(), tenantID, "dispatch")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	used := unitsUsed(t, db, tenantID, ledgerdomain.PeriodStart(fc.Now()))
	if used != 20 {
		t.Fatalf("expected 20 units after concurrent increments, got %d", used)
	}
	if count := periodRows(t, db, tenantID); count != 1 {
		t.Fatalf("expected a single period row, got %d", count)
	}
}

func TestUsageResetsAcrossPeriods(t *testing.T) {
	node := mustNode(t)
	svc, _, fc := setupLedgerService(t, node, &planStub{quota: 1})
	tenantID := node.Generate()

	ctx := context.Background()
	if err := svc.RecordPlanUsage(ctx, tenantID, "dispatch"); err != nil {
		t.Fatalf("record: %v", err)
	}

	status, err := svc.CheckQuota(ctx, tenantID, "dispatch")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.Allowed {
		t.Fatalf("expected exhausted in current period")
	}

	// New calendar month, fresh counter.
	fc.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	status, err = svc.CheckQuota(ctx, tenantID, "dispatch")
	if err != nil {
		t.Fatalf("check next period: %v", err)
	}
	if !status.Allowed || status.Used != 0 {
		t.Fatalf("expected fresh period, got %+v", status)
	}
}

func TestCheckQuotaValidatesInput(t *testing.T) {
	node := mustNode(t)
	svc, _, _ := setupLedgerService(t, node, &planStub{quota: 1})

	if _, err := svc.CheckQuota(context.Background(), 0, "dispatch"); !errors.Is(err, ledgerdomain.ErrInvalidTenant) {
		t.Fatalf("expected ErrInvalidTenant, got %v", err)
	}
	if _, err := svc.CheckQuota(context.Background(), node.Generate(), ""); !errors.Is(err, ledgerdomain.ErrInvalidResource) {
		t.Fatalf("expected ErrInvalidResource, got %v", err)
	}
}

func setupLedgerService(t *testing.T, node *snowflake.Node, plan plandomain.Service) (ledgerdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error
	prepareLedgerSchema(t, db)

	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Repo:    ledgerrepo.Provide(),
		PlanSvc: plan,
	})
	return svc, db, fc
}

func prepareLedgerSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`CREATE TABLE usage_periods (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		resource_type TEXT NOT NULL,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		units_used BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create usage_periods: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX uidx_usage_period
		ON usage_periods (tenant_id, resource_type, period_start)`).Error; err != nil {
		t.Fatalf("create usage period index: %v", err)
	}
}

func unitsUsed(t *testing.T, db *gorm.DB, tenantID snowflake.ID, periodStart time.Time) int64 {
	t.Helper()
	var used int64
	if err := db.Raw(
		`SELECT units_used FROM usage_periods WHERE tenant_id = ? AND period_start = ?`,
		tenantID,
		periodStart,
	).Scan(&used).Error; err != nil {
		t.Fatalf("units used: %v", err)
	}
	return used
}

func periodRows(t *testing.T, db *gorm.DB, tenantID snowflake.ID) int {
	t.Helper()
	var count int
	if err := db.Raw(
		`SELECT COUNT(1) FROM usage_periods WHERE tenant_id = ?`,
		tenantID,
	).Scan(&count).Error; err != nil {
		t.Fatalf("period rows: %v", err)
	}
	return count
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
