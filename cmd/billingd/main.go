package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/onetimesecret/billing/internal/audit"
	"github.com/onetimesecret/billing/internal/billing"
	"github.com/onetimesecret/billing/internal/catalog"
	"github.com/onetimesecret/billing/internal/clock"
	"github.com/onetimesecret/billing/internal/config"
	"github.com/onetimesecret/billing/internal/events"
	"github.com/onetimesecret/billing/internal/intentworker"
	"github.com/onetimesecret/billing/internal/migration"
	"github.com/onetimesecret/billing/internal/observability"
	"github.com/onetimesecret/billing/internal/organization"
	"github.com/onetimesecret/billing/internal/server"
	"github.com/onetimesecret/billing/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return migration.RunMigrations(sqlDB)
		}),

		events.Module,
		catalog.Module,
		organization.Module,
		audit.Module,
		billing.Module,
		intentworker.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
