package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/migration"
	"github.com/smallbiznis/copydesk/internal/observability"
	"github.com/smallbiznis/copydesk/internal/server"
	"github.com/smallbiznis/copydesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
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
