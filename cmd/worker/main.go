package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"crewloop.app/core/common/id"
	"crewloop.app/core/common/logger"
	"crewloop.app/core/common/otel"
	"crewloop.app/core/core/config"
	"crewloop.app/core/internal/bus"
	"crewloop.app/core/internal/orchestrator"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/summarizer"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "crewloop worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Bus.StreamGroup,
		"consumer_name", cfg.Bus.Consumer,
		"workspaces", cfg.WorkspaceIDs)

	if !cfg.Bus.UsePubSub {
		slog.ErrorContext(ctx, "worker requires USE_PUBSUB=true; the in-process bus needs no worker")
		os.Exit(1)
	}

	// Different node ID than the server keeps generated ids distinct
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Bus.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	var summ summarizer.Summarizer
	if cfg.Summarizer.Enabled() {
		summ, err = summarizer.NewOpenAI(cfg.Summarizer)
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize summarizer", "error", err)
			os.Exit(1)
		}
	}

	// One consumer loop and one agent set per workspace. Every worker in the
	// consumer group shares the delivered messages for a stream.
	var orchestrators []*orchestrator.Orchestrator
	errCh := make(chan error, len(cfg.WorkspaceIDs))
	for _, workspaceID := range cfg.WorkspaceIDs {
		o, redisBus, err := buildWorkspace(ctx, cfg, redisClient, summ, workspaceID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to build workspace", "workspace_id", workspaceID, "error", err)
			os.Exit(1)
		}
		o.InitializeAgents(ctx)
		orchestrators = append(orchestrators, o)

		go func() {
			errCh <- redisBus.Run(ctx)
		}()
	}

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.InfoContext(ctx, "shutting down worker...")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "consumer loop failed", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, o := range orchestrators {
		o.ShutdownAgents(shutdownCtx)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

func buildWorkspace(ctx context.Context, cfg config.Config, redisClient *redis.Client, summ summarizer.Summarizer, workspaceID string) (*orchestrator.Orchestrator, *bus.RedisBus, error) {
	workspacePath := filepath.Join(cfg.WorkspaceRoot, workspaceID)
	if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating workspace directory: %w", err)
	}

	redisBus, err := bus.NewRedisBus(redisClient, bus.RedisBusConfig{
		Stream:   bus.StreamName(workspaceID),
		Group:    cfg.Bus.StreamGroup,
		Consumer: cfg.Bus.Consumer,
		MaxLen:   cfg.Bus.StreamMax,
	})
	if err != nil {
		return nil, nil, err
	}

	var proposals proposal.Store
	if cfg.Proposals.UseDocumentStore {
		proposals, err = proposal.NewArangoStore(ctx, cfg.ArangoDB, workspaceID)
	} else {
		proposals, err = proposal.NewFileStore(workspacePath)
	}
	if err != nil {
		return nil, nil, err
	}

	o, err := orchestrator.New(orchestrator.Config{
		WorkspaceID:   workspaceID,
		WorkspacePath: workspacePath,
		Bus:           redisBus,
		Proposals:     proposals,
		Summarizer:    summ,
	})
	if err != nil {
		return nil, nil, err
	}
	return o, redisBus, nil
}

const banner = `
 ██████╗██████╗ ███████╗██╗    ██╗██╗      ██████╗  ██████╗ ██████╗
██╔════╝██╔══██╗██╔════╝██║    ██║██║     ██╔═══██╗██╔═══██╗██╔══██╗
██║     ██████╔╝█████╗  ██║ █╗ ██║██║     ██║   ██║██║   ██║██████╔╝
██║     ██╔══██╗██╔══╝  ██║███╗██║██║     ██║   ██║██║   ██║██╔═══╝
╚██████╗██║  ██║███████╗╚███╔███╔╝███████╗╚██████╔╝╚██████╔╝██║
 ╚═════╝╚═╝  ╚═╝╚══════╝ ╚══╝╚══╝ ╚══════╝ ╚═════╝  ╚═════╝ ╚═╝
                                    worker
`
