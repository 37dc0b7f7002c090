package plan

import (
	"github.com/fieldline/fieldline/internal/plan/repository"
	"github.com/fieldline/fieldline/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
