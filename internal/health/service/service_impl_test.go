package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldline/fieldline/internal/clock"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/internal/config"
	healthdomain "github.com/fieldline/fieldline/internal/health/domain"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"github.com/fieldline/fieldline/internal/pack/memstore"
	"go.uber.org/zap"
)

type queueCountStub struct {
	records []compdomain.CompensationRecord
}

func (q *queueCountStub) Enqueue(_ context.Context, r *compdomain.CompensationRecord) (*compdomain.CompensationRecord, error) {
	return r, nil
}
func (q *queueCountStub) ListUnresolved(context.Context, int) ([]compdomain.CompensationRecord, error) {
	return q.records, nil
}
func (q *queueCountStub) Resolve(context.Context, snowflake.ID, string, string) error { return nil }
func (q *queueCountStub) CountUnresolved(context.Context) (int64, error) {
	return int64(len(q.records)), nil
}

func TestReportHealthyWithEmptyWindow(t *testing.T) {
	svc, _, _, _ := setupHealth(t)

	report, err := svc.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Status != healthdomain.StatusHealthy {
		t.Fatalf("expected healthy, got %s", report.Status)
	}
	if report.Metrics.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0 for empty window, got %f", report.Metrics.SuccessRate)
	}
}

func TestReportCriticalOnCompensationBacklog(t *testing.T) {
	svc, _, fc, queue := setupHealth(t)
	node := mustNode(t)

	first := node.Generate()
	second := node.Generate()
	queue.records = []compdomain.CompensationRecord{
		{ReservationID: first, Reason: "finalize_retries_exhausted", CreatedAt: fc.Now()},
		{ReservationID: second, Reason: "finalize_retries_exhausted", CreatedAt: fc.Now()},
	}

	report, err := svc.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Status != healthdomain.StatusCritical {
		t.Fatalf("expected critical, got %s", report.Status)
	}
	if report.Metrics.CompensationQueueSize != 2 {
		t.Fatalf("expected queue size 2, got %d", report.Metrics.CompensationQueueSize)
	}

	// Each stuck reservation must be named so operators can act on the report.
	for _, id := range []snowflake.ID{first, second} {
		if !issuesReference(report.Issues, id) {
			t.Fatalf("no issue references reservation %d; issues = %q", id, report.Issues)
		}
	}
}

func TestReportCriticalOnStalePending(t *testing.T) {
	svc, store, fc, _ := setupHealth(t)
	node := mustNode(t)

	seedReservation(t, store, node, fc.Now())
	fc.Advance(20 * time.Minute)

	report, err := svc.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Status != healthdomain.StatusCritical {
		t.Fatalf("expected critical, got %s", report.Status)
	}
	if report.Metrics.OldestPendingAge != 20*time.Minute {
		t.Fatalf("expected oldest pending age 20m, got %s", report.Metrics.OldestPendingAge)
	}
}

func TestReportDegradedOnLowSuccessRate(t *testing.T) {
	svc, store, fc, _ := setupHealth(t)
	node := mustNode(t)

	// 1 committed, 1 compensating inside the window: 50% success rate.
	committed := seedReservation(t, store, node, fc.Now())
	escalated := seedReservation(t, store, node, fc.Now())
	if _, err := store.CommitReservation(context.Background(), committed, fc.Now()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.MarkCompensating(context.Background(), escalated, 3, fc.Now()); err != nil {
		t.Fatalf("mark compensating: %v", err)
	}

	report, err := svc.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Status != healthdomain.StatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Metrics.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %f", report.Metrics.SuccessRate)
	}
	if report.Metrics.CriticalFailures != 1 {
		t.Fatalf("expected 1 critical failure, got %d", report.Metrics.CriticalFailures)
	}
}

func TestReportIgnoresResolutionsOutsideWindow(t *testing.T) {
	svc, store, fc, _ := setupHealth(t)
	node := mustNode(t)

	escalated := seedReservation(t, store, node, fc.Now())
	if _, err := store.MarkCompensating(context.Background(), escalated, 3, fc.Now()); err != nil {
		t.Fatalf("mark compensating: %v", err)
	}

	// The failure ages out of the 24h window.
	fc.Advance(25 * time.Hour)

	report, err := svc.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Status != healthdomain.StatusHealthy {
		t.Fatalf("expected healthy once failure aged out, got %s", report.Status)
	}
}

func setupHealth(t *testing.T) (healthdomain.Service, *memstore.Store, *clock.FakeClock, *queueCountStub) {
	t.Helper()

	store := memstore.New()
	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	queue := &queueCountStub{}

	svc := NewService(Params{
		Log:      zap.NewNop(),
		Clock:    fc,
		Holder:   config.NewStaticProtectionHolder(config.DefaultProtectionConfig()),
		PackRepo: store,
		CompSvc:  queue,
	})
	return svc, store, fc, queue
}

func seedReservation(t *testing.T, store *memstore.Store, node *snowflake.Node, now time.Time) snowflake.ID {
	t.Helper()

	tenantID := node.Generate()
	packID := node.Generate()
	store.AddPack(packdomain.Pack{
		ID:             packID,
		TenantID:       tenantID,
		ResourceType:   "dispatch",
		TotalUnits:     5,
		RemainingUnits: 5,
		PurchasedAt:    now,
	})
	reservation := &packdomain.Reservation{
		ID:           node.Generate(),
		TenantID:     tenantID,
		ResourceType: "dispatch",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := store.ReserveUnit(context.Background(), reservation); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return reservation.ID
}

func issuesReference(issues []string, id snowflake.ID) bool {
	for _, issue := range issues {
		if strings.Contains(issue, id.String()) {
			return true
		}
	}
	return false
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
