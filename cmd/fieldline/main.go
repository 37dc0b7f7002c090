package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fieldline/fieldline/internal/clock"
	"github.com/fieldline/fieldline/internal/compensation"
	"github.com/fieldline/fieldline/internal/config"
	"github.com/fieldline/fieldline/internal/dispatch"
	"github.com/fieldline/fieldline/internal/finalize"
	"github.com/fieldline/fieldline/internal/health"
	"github.com/fieldline/fieldline/internal/ledger"
	"github.com/fieldline/fieldline/internal/logger"
	"github.com/fieldline/fieldline/internal/migration"
	"github.com/fieldline/fieldline/internal/observability"
	"github.com/fieldline/fieldline/internal/pack"
	"github.com/fieldline/fieldline/internal/plan"
	"github.com/fieldline/fieldline/internal/policy"
	"github.com/fieldline/fieldline/internal/server"
	"github.com/fieldline/fieldline/internal/sweeper"
	"github.com/fieldline/fieldline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Billing protection pipeline
		policy.Module,
		plan.Module,
		ledger.Module,
		pack.Module,
		compensation.Module,
		finalize.Module,
		health.Module,
		dispatch.Module,

		// Surfaces
		server.Module,
		sweeper.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
