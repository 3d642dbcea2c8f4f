// Package app assembles the runtime dependency container.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ingestkit/docbridge/internal/auth"
	"github.com/ingestkit/docbridge/internal/cache"
	"github.com/ingestkit/docbridge/internal/client"
	"github.com/ingestkit/docbridge/internal/config"
	"github.com/ingestkit/docbridge/internal/extract"
	"github.com/ingestkit/docbridge/internal/health"
	"github.com/ingestkit/docbridge/internal/limits"
	"github.com/ingestkit/docbridge/internal/nim"
	"github.com/ingestkit/docbridge/internal/observability"
	"github.com/ingestkit/docbridge/internal/services/ingest"
	"github.com/ingestkit/docbridge/internal/storage/blob"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Observability *observability.Provider
	APIKeys       *auth.Verifier
	Assets        blob.Store
	Limiter       *limits.RateLimiter
	Models        *health.Monitor
	Charts        *client.Runner
	Jobs          *ingest.Service
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, obs *observability.Provider) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	assets, err := blob.New(ctx, cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("build asset store: %w", err)
	}

	charts, err := buildRunner(nim.NewDeplot(nim.DeplotOptions{Model: cfg.Inference.Deplot.Model}), cfg.Inference.Deplot)
	if err != nil {
		return nil, fmt.Errorf("build chart runner: %w", err)
	}
	layout, err := buildRunner(nim.NewDoughnut(nim.DoughnutOptions{Model: cfg.Inference.Doughnut.Model}), cfg.Inference.Doughnut)
	if err != nil {
		return nil, fmt.Errorf("build layout runner: %w", err)
	}

	extractor, err := extract.New(extract.Options{
		Inferer:       extract.NewRunnerInferer(layout),
		MaxBatchSize:  cfg.Inference.Doughnut.MaxBatchSize,
		ExtractText:   cfg.Extraction.ExtractText,
		ExtractTables: cfg.Extraction.ExtractTables,
		ExtractImages: cfg.Extraction.ExtractImages,
		TextDepth:     extract.TextDepth(cfg.Extraction.TextDepth),
	})
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}

	jobs, err := ingest.NewService(ingest.Options{
		Store:       ingest.NewPGStore(pool),
		Extractor:   extractor,
		Assets:      assets,
		Idempotency: cache.NewIdempotencyCache(redisClient, 24*time.Hour),
		MaxPages:    cfg.Extraction.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("build ingest service: %w", err)
	}

	return &Container{
		Config:        cfg,
		DBPool:        pool,
		Redis:         redisClient,
		Observability: obs,
		APIKeys:       auth.NewVerifier(cfg.Auth.APIKeys),
		Assets:        assets,
		Limiter:       limits.NewRateLimiter(redisClient),
		Models:        health.NewMonitor(cfg.Inference),
		Charts:        charts,
		Jobs:          jobs,
	}, nil
}

func buildRunner(model nim.ModelInterface, cfg config.ModelEndpointConfig) (*client.Runner, error) {
	protocol, err := nim.ParseProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	opts := client.RunnerOptions{
		Model:        model,
		Protocol:     protocol,
		MaxBatchSize: cfg.MaxBatchSize,
	}
	switch protocol {
	case nim.ProtocolGRPC:
		transport, err := client.NewKServeTransport(client.KServeOptions{
			BaseURL: cfg.Endpoint,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		opts.Tensors = transport
	case nim.ProtocolHTTP:
		chat, err := client.NewChatClient(client.ChatOptions{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		opts.Chat = chat
	}
	return client.NewRunner(opts)
}
