package compensation

import (
	"github.com/fieldline/fieldline/internal/compensation/repository"
	"github.com/fieldline/fieldline/internal/compensation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("compensation.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
