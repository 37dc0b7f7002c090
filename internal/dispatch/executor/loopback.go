// Package executor ships the loopback action executor used in development
// and tests. Production deployments provide their own Executor.
package executor

import (
	"context"

	"github.com/bwmarrin/snowflake"
	dispatchdomain "github.com/fieldline/fieldline/internal/dispatch/domain"
	"go.uber.org/zap"
)

type Loopback struct {
	log *zap.Logger
}

func NewLoopback(log *zap.Logger) dispatchdomain.Executor {
	return &Loopback{log: log.Named("dispatch.executor.loopback")}
}

// Execute succeeds immediately and echoes the payload back.
func (l *Loopback) Execute(_ context.Context, tenantID snowflake.ID, action dispatchdomain.Action) (*dispatchdomain.Outcome, error) {
	l.log.Debug("loopback action executed",
		zap.Int64("tenant_id", tenantID.Int64()),
		zap.String("resource_type", action.ResourceType),
	)
	return &dispatchdomain.Outcome{Data: action.Payload}, nil
}
