package health

import (
	"github.com/fieldline/fieldline/internal/health/service"
	"go.uber.org/fx"
)

var Module = fx.Module("health.service",
	fx.Provide(
		service.NewService,
	),
)
