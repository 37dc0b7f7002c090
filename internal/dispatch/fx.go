package dispatch

import (
	"github.com/fieldline/fieldline/internal/dispatch/executor"
	"github.com/fieldline/fieldline/internal/dispatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.service",
	fx.Provide(
		executor.NewLoopback,
		service.NewService,
	),
)
