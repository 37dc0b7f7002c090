// Package domain defines the billable-action port and the execution receipt.
//
// The billing pipeline never performs the external action itself; it wraps an
// Executor with quota, pack and finalization accounting. The critical ordering
// rule: a pack unit is reserved before the action runs and only committed
// after it succeeds.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// BillingSource records which lane paid for an action.
type BillingSource string

const (
	// BillingSourceUnmetered means a policy grant exempted the tenant.
	BillingSourceUnmetered BillingSource = "unmetered"

	// BillingSourcePlan means the action consumed plan quota.
	BillingSourcePlan BillingSource = "plan"

	// BillingSourcePack means the action consumed a prepaid pack unit.
	BillingSourcePack BillingSource = "pack"
)

// Action is one billable unit of external work.
type Action struct {
	ResourceType string         `json:"resource_type"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Outcome is whatever the executor produced; the billing pipeline treats it
// as opaque.
type Outcome struct {
	Data map[string]any `json:"data,omitempty"`
}

// Executor performs the irreversible external action. Implementations live
// outside the billing pipeline (SMS gateways, route optimizers, document
// renderers).
type Executor interface {
	Execute(ctx context.Context, tenantID snowflake.ID, action Action) (*Outcome, error)
}

// Receipt describes how a completed action was billed.
type Receipt struct {
	ID               string        `json:"id"`
	TenantID         snowflake.ID  `json:"tenant_id"`
	ResourceType     string        `json:"resource_type"`
	BillingSource    BillingSource `json:"billing_source"`
	ReservationID    snowflake.ID  `json:"reservation_id,omitempty"`
	FinalizeAttempts int           `json:"finalize_attempts,omitempty"`
	Outcome          *Outcome      `json:"outcome,omitempty"`
}

// ErrQuotaExhausted means plan quota is spent and no pack has units left. The
// action was never attempted.
var ErrQuotaExhausted = errors.New("quota_exhausted")

// Service is the guarded entry point for billable actions.
type Service interface {
	Dispatch(ctx context.Context, tenantID snowflake.ID, action Action) (*Receipt, error)
}
