package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/app"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/config"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

const serviceName = "eidos-wallet"

func main() {
	configPath := flag.String("config", config.GetEnvString("EIDOS_WALLET_CONFIG", "config/config.yaml"), "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
	}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting service",
		zap.String("env", cfg.Service.Env),
		zap.Int("grpc_port", cfg.Service.GRPCPort),
		zap.String("storage", cfg.Storage.Driver),
	)

	application, err := app.NewApp(cfg)
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}

	if err := application.Run(); err != nil {
		logger.Fatal("app run error", zap.Error(err))
	}

	logger.Info("service stopped")
}
