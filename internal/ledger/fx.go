package ledger

import (
	"github.com/fieldline/fieldline/internal/ledger/repository"
	"github.com/fieldline/fieldline/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
