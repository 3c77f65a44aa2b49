package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tableside/internal/clock"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/migration"
	"github.com/smallbiznis/tableside/internal/observability"
	"github.com/smallbiznis/tableside/internal/server"
	"github.com/smallbiznis/tableside/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Order lifecycle, sockets, push and the HTTP surface
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
