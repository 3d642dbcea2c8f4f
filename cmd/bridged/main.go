package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ingestkit/docbridge/internal/app"
	"github.com/ingestkit/docbridge/internal/config"
	"github.com/ingestkit/docbridge/internal/database"
	"github.com/ingestkit/docbridge/internal/httpserver"
	"github.com/ingestkit/docbridge/internal/observability"
	"github.com/ingestkit/docbridge/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := database.RunMigrations(ctx, cfg.Database); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer dbPool.Close()

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		log.Fatalf("setup observability: %v", err)
	}
	if obs != nil {
		defer obs.Shutdown(ctx)
	}

	container, err := app.NewContainer(ctx, cfg, dbPool, redisClient, obs)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	container.Models.Start(ctx)

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}
