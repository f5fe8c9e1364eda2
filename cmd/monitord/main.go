package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ncecere/snowflake_query_monitor/internal/app"
	"github.com/ncecere/snowflake_query_monitor/internal/config"
	"github.com/ncecere/snowflake_query_monitor/internal/httpserver"
	"github.com/ncecere/snowflake_query_monitor/internal/logging"
	"github.com/ncecere/snowflake_query_monitor/internal/redisclient"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to config.json (overrides MONITOR_CONFIG_FILE)")
	secretsFile := pflag.StringP("secrets", "s", "", "path to secrets.toml")
	envFile := pflag.String("env-file", "", "dotenv file loaded before the environment is read")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, SecretsFile: *secretsFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Install(cfg.Logging)
	for _, w := range cfg.Warnings {
		logger.Warn("config", slog.String("warning", w))
	}

	db, err := warehouse.Open(cfg.Snowflake)
	if err != nil {
		log.Fatalf("connect snowflake: %v", err)
	}
	defer db.Close()

	redisClient := redisclient.New(cfg.Redis)
	if redisClient != nil {
		if err := redisclient.Ping(ctx, redisClient); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisClient.Close()
	}

	container, err := app.NewContainer(ctx, cfg, db, redisClient)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer container.Close()
	if container.Observability != nil {
		defer container.Observability.Shutdown(context.Background())
	}

	container.HealthMon.Start(ctx)

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	logger.Info("query monitor listening",
		slog.String("addr", cfg.Server.ListenAddr),
		slog.String("default_warehouse", cfg.Snowflake.Warehouse),
		slog.String("cache_backend", cfg.Cache.Backend),
	)
	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}
