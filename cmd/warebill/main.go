package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/clock"
	"github.com/warebill/warebill/internal/config"
	"github.com/warebill/warebill/internal/distlock"
	"github.com/warebill/warebill/internal/migration"
	"github.com/warebill/warebill/internal/observability"
	"github.com/warebill/warebill/internal/scheduler"
	"github.com/warebill/warebill/internal/server"
	"github.com/warebill/warebill/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		distlock.Module,

		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) *snowflake.Node {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		panic(err)
	}
	return node
}
