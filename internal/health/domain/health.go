// Package domain defines the billing protection health report.
package domain

import (
	"context"
	"time"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Metrics are the raw numbers behind the status decision.
type Metrics struct {
	SuccessRate           float64       `json:"success_rate"`
	CriticalFailures      int64         `json:"critical_failures"`
	PendingReservations   int64         `json:"pending_reservations"`
	OldestPendingAge      time.Duration `json:"oldest_pending_age"`
	CompensationQueueSize int64         `json:"compensation_queue_size"`
}

// Report is the operator-facing snapshot of the billing pipeline.
type Report struct {
	Status      Status    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	Metrics     Metrics   `json:"metrics"`
	Issues      []string  `json:"issues,omitempty"`
}

// Service computes the health report from live stores on each call.
type Service interface {
	Report(ctx context.Context) (Report, error)
}
