package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"claimpay/internal/httpapi"
	"claimpay/internal/server"
	"claimpay/pkg/config"
	"claimpay/pkg/db"
	"claimpay/pkg/logger"
	"claimpay/pkg/redis"
	"claimpay/pkg/task"
	"claimpay/services/claim"
	"claimpay/services/payroll"
	"claimpay/services/stats"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		fx.Provide(
			provideSnowflakeNode,
		),
		fx.Invoke(
			migrate,
		),
		claim.Module,
		payroll.Module,
		stats.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&claim.Claim{},
		&claim.Eligibility{},
		&claim.Task{},
		&claim.Decision{},
		&claim.Amendment{},
		&payroll.PayrollRun{},
		&payroll.Payment{},
	)
}
