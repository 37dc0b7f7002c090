package migration

import (
	"strings"

	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	plandomain "github.com/fieldline/fieldline/internal/plan/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if strings.EqualFold(conn.Dialector.Name(), "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql deployments (dev, tests, small installs) get the
		// schema from the models instead of the postgres migration files.
		return conn.AutoMigrate(
			&plandomain.PlanQuota{},
			&ledgerdomain.UsagePeriod{},
			&packdomain.Pack{},
			&packdomain.Reservation{},
			&packdomain.PackUsageRecord{},
			&compdomain.CompensationRecord{},
		)
	}),
)
