package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/internal/config"
	dispatchdomain "github.com/fieldline/fieldline/internal/dispatch/domain"
	finalizedomain "github.com/fieldline/fieldline/internal/finalize/domain"
	healthdomain "github.com/fieldline/fieldline/internal/health/domain"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ledgerSvcStub struct {
	status ledgerdomain.QuotaStatus
	err    error
}

func (l *ledgerSvcStub) CheckQuota(context.Context, snowflake.ID, string) (ledgerdomain.QuotaStatus, error) {
	return l.status, l.err
}
func (l *ledgerSvcStub) RecordPlanUsage(context.Context, snowflake.ID, string) error { return nil }

type packSvcStub struct {
	reservation *packdomain.Reservation
	err         error
}

func (p *packSvcStub) Reserve(context.Context, snowflake.ID, string) (*packdomain.Reservation, error) {
	return p.reservation, p.err
}
func (p *packSvcStub) Release(context.Context, snowflake.ID) error { return nil }
func (p *packSvcStub) ExpireStalePending(context.Context, time.Duration) (int, error) {
	return 0, nil
}
func (p *packSvcStub) Get(context.Context, snowflake.ID) (*packdomain.Reservation, error) {
	if p.reservation == nil {
		return nil, packdomain.ErrReservationNotFound
	}
	return p.reservation, nil
}

type compSvcStub struct {
	records    []compdomain.CompensationRecord
	resolveErr error
}

func (c *compSvcStub) Enqueue(_ context.Context, r *compdomain.CompensationRecord) (*compdomain.CompensationRecord, error) {
	return r, nil
}
func (c *compSvcStub) ListUnresolved(context.Context, int) ([]compdomain.CompensationRecord, error) {
	return c.records, nil
}
func (c *compSvcStub) Resolve(context.Context, snowflake.ID, string, string) error {
	return c.resolveErr
}
func (c *compSvcStub) CountUnresolved(context.Context) (int64, error) {
	return int64(len(c.records)), nil
}

type healthSvcStub struct {
	report healthdomain.Report
}

func (h *healthSvcStub) Report(context.Context) (healthdomain.Report, error) {
	return h.report, nil
}

type dispatchSvcStub struct {
	receipt *dispatchdomain.Receipt
	err     error
}

func (d *dispatchSvcStub) Dispatch(context.Context, snowflake.ID, dispatchdomain.Action) (*dispatchdomain.Receipt, error) {
	return d.receipt, d.err
}

type stubs struct {
	ledger   *ledgerSvcStub
	packs    *packSvcStub
	comp     *compSvcStub
	health   *healthSvcStub
	dispatch *dispatchSvcStub
}

func TestGetQuota(t *testing.T) {
	engine, st := setupServer(t)
	st.ledger.status = ledgerdomain.QuotaStatus{Allowed: true, Used: 3, Quota: 10, Remaining: 7}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/quota?tenant_id=12345&resource_type=dispatch", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status ledgerdomain.QuotaStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Allowed || status.Remaining != 7 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestGetQuotaRejectsBadTenant(t *testing.T) {
	engine, _ := setupServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/quota?tenant_id=abc", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDispatchActionQuotaExhausted(t *testing.T) {
	engine, st := setupServer(t)
	st.dispatch.err = dispatchdomain.ErrQuotaExhausted

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/actions",
		strings.NewReader(`{"tenant_id":"12345","resource_type":"dispatch"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "quota_exhausted") {
		t.Fatalf("expected quota_exhausted type, got %s", w.Body.String())
	}
}

func TestDispatchActionBillingFailureIsCritical(t *testing.T) {
	engine, st := setupServer(t)
	st.dispatch.err = &finalizedomain.BillingError{
		ReservationID: 42,
		Attempts:      3,
		Err:           finalizedomain.ErrFinalizePersistent,
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/actions",
		strings.NewReader(`{"tenant_id":"12345","resource_type":"dispatch"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "billing_finalize_failed") || !strings.Contains(body, "critical") {
		t.Fatalf("expected critical billing payload, got %s", body)
	}
	if !strings.Contains(body, `"billing_error":true`) {
		t.Fatalf("expected billing_error flag, got %s", body)
	}
	if !strings.Contains(body, `"reservation_id":"42"`) {
		t.Fatalf("expected reservation id in payload, got %s", body)
	}
}

func TestDispatchActionReturnsReceipt(t *testing.T) {
	engine, st := setupServer(t)
	st.dispatch.receipt = &dispatchdomain.Receipt{
		ID:            "01HV0000000000000000000000",
		TenantID:      12345,
		ResourceType:  "dispatch",
		BillingSource: dispatchdomain.BillingSourcePack,
		ReservationID: 42,
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/actions",
		strings.NewReader(`{"tenant_id":"12345","resource_type":"dispatch","payload":{"job":"route"}}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var receipt dispatchdomain.Receipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if receipt.BillingSource != dispatchdomain.BillingSourcePack || receipt.ReservationID != 42 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestDispatchActionTenantFromHeader(t *testing.T) {
	engine, st := setupServer(t)
	st.dispatch.receipt = &dispatchdomain.Receipt{
		ID:            "01HV0000000000000000000001",
		TenantID:      98765,
		ResourceType:  "dispatch",
		BillingSource: dispatchdomain.BillingSourcePlan,
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/actions",
		strings.NewReader(`{"resource_type":"dispatch"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "98765")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with header tenant, got %d: %s", w.Code, w.Body.String())
	}
}

func TestResolveCompensationNotFound(t *testing.T) {
	engine, st := setupServer(t)
	st.comp.resolveErr = compdomain.ErrCompensationNotFound

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/compensations/42/resolve",
		strings.NewReader(`{"resolved_by":"ops@fieldline"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBillingHealthCriticalReturns503(t *testing.T) {
	engine, st := setupServer(t)
	st.health.report = healthdomain.Report{
		Status: healthdomain.StatusCritical,
		Issues: []string{"2 unresolved compensation records"},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/health", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "critical") {
		t.Fatalf("expected critical status in body, got %s", w.Body.String())
	}
}

func TestLivenessEndpoint(t *testing.T) {
	engine, _ := setupServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func setupServer(t *testing.T) (*gin.Engine, *stubs) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := &stubs{
		ledger:   &ledgerSvcStub{},
		packs:    &packSvcStub{},
		comp:     &compSvcStub{},
		health:   &healthSvcStub{report: healthdomain.Report{Status: healthdomain.StatusHealthy}},
		dispatch: &dispatchSvcStub{},
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	engine := NewEngine(config.Config{}, zap.NewNop())
	srv := NewServer(Params{
		Gin:         engine,
		Cfg:         config.Config{},
		Log:         zap.NewNop(),
		GenID:       node,
		LedgerSvc:   st.ledger,
		PackSvc:     st.packs,
		CompSvc:     st.comp,
		HealthSvc:   st.health,
		DispatchSvc: st.dispatch,
	})
	RegisterRoutes(srv)
	return engine, st
}
