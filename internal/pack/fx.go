package pack

import (
	"github.com/fieldline/fieldline/internal/pack/repository"
	"github.com/fieldline/fieldline/internal/pack/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pack.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
