package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pawselabs/pawse/internal/clock"
	"github.com/pawselabs/pawse/internal/config"
	"github.com/pawselabs/pawse/internal/logger"
	"github.com/pawselabs/pawse/internal/migration"
	"github.com/pawselabs/pawse/internal/observability"
	"github.com/pawselabs/pawse/internal/scheduler"
	"github.com/pawselabs/pawse/internal/server"
	"github.com/pawselabs/pawse/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
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
