package finalize

import (
	"github.com/fieldline/fieldline/internal/finalize/service"
	"go.uber.org/fx"
)

var Module = fx.Module("finalize.service",
	fx.Provide(
		service.NewService,
	),
)
