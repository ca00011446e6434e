package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"crewloop.app/core/common/id"
	"crewloop.app/core/common/logger"
	"crewloop.app/core/common/otel"
	"crewloop.app/core/core/config"
	"crewloop.app/core/internal/bus"
	"crewloop.app/core/internal/http/middleware"
	httprouter "crewloop.app/core/internal/http/router"
	"crewloop.app/core/internal/orchestrator"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/service"
	"crewloop.app/core/internal/summarizer"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet; OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "crewloop starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Bus.UsePubSub {
		redisOpts, err := redis.ParseURL(cfg.Bus.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected", "group", cfg.Bus.StreamGroup)
	}

	var summ summarizer.Summarizer
	if cfg.Summarizer.Enabled() {
		summ, err = summarizer.NewOpenAI(cfg.Summarizer)
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize summarizer", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "summarizer enabled", "model", cfg.Summarizer.Model)
	}

	manager := orchestrator.NewManager(workspaceBuilder(cfg, redisClient, summ))
	workspaces := service.NewWorkspaces(cfg, manager)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, workspaces)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	manager.ShutdownAll(shutdownCtx)

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// workspaceBuilder selects the bus and proposal store backends from config
// and assembles one orchestrator per workspace.
func workspaceBuilder(cfg config.Config, redisClient *redis.Client, summ summarizer.Summarizer) orchestrator.BuildFunc {
	return func(ctx context.Context, workspaceID string) (*orchestrator.Orchestrator, error) {
		workspacePath := filepath.Join(cfg.WorkspaceRoot, workspaceID)
		if err := os.MkdirAll(workspacePath, 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace directory: %w", err)
		}

		var eventBus bus.Bus
		if cfg.Bus.UsePubSub {
			redisBus, err := bus.NewRedisBus(redisClient, bus.RedisBusConfig{
				Stream:   bus.StreamName(workspaceID),
				Group:    cfg.Bus.StreamGroup,
				Consumer: cfg.Bus.Consumer,
				MaxLen:   cfg.Bus.StreamMax,
			})
			if err != nil {
				return nil, err
			}
			// The consumer loop outlives the request that built the
			// workspace; it stops with the process, not the caller.
			go redisBus.Run(context.Background())
			eventBus = redisBus
		} else {
			eventBus = bus.NewInMemoryBus()
		}

		var proposals proposal.Store
		if cfg.Proposals.UseDocumentStore {
			store, err := proposal.NewArangoStore(ctx, cfg.ArangoDB, workspaceID)
			if err != nil {
				return nil, err
			}
			proposals = store
		} else {
			store, err := proposal.NewFileStore(workspacePath)
			if err != nil {
				return nil, err
			}
			proposals = store
		}

		return orchestrator.New(orchestrator.Config{
			WorkspaceID:   workspaceID,
			WorkspacePath: workspacePath,
			Bus:           eventBus,
			Proposals:     proposals,
			Summarizer:    summ,
		})
	}
}

func setupRouter(cfg config.Config, workspaces *service.Workspaces) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, workspaces)

	return router
}

const banner = `
 ██████╗██████╗ ███████╗██╗    ██╗██╗      ██████╗  ██████╗ ██████╗
██╔════╝██╔══██╗██╔════╝██║    ██║██║     ██╔═══██╗██╔═══██╗██╔══██╗
██║     ██████╔╝█████╗  ██║ █╗ ██║██║     ██║   ██║██║   ██║██████╔╝
██║     ██╔══██╗██╔══╝  ██║███╗██║██║     ██║   ██║██║   ██║██╔═══╝
╚██████╗██║  ██║███████╗╚███╔███╔╝███████╗╚██████╔╝╚██████╔╝██║
 ╚═════╝╚═╝  ╚═╝╚══════╝ ╚══╝╚══╝ ╚══════╝ ╚═════╝  ╚═════╝ ╚═╝
`
