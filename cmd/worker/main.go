package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/pkg/db"
	"reviewpoints-platform/pkg/logger"
	"reviewpoints-platform/pkg/redis"
	"reviewpoints-platform/pkg/sequence"
	"reviewpoints-platform/pkg/task"
	"reviewpoints-platform/services/account"
	"reviewpoints-platform/services/ledger"
	"reviewpoints-platform/services/pricing"
	"reviewpoints-platform/services/review"
	reviewtask "reviewpoints-platform/services/review/task"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		sequence.Module,
		fx.Provide(provideSnowflakeNode),
		account.StoreModule,
		account.Module,
		pricing.Module,
		ledger.Module,
		review.Module,
		reviewtask.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
