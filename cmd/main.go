package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/driftlabs/chatrelay/internal/ai"
	"github.com/driftlabs/chatrelay/internal/cache"
	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/internal/handler"
	"github.com/driftlabs/chatrelay/internal/hub"
	"github.com/driftlabs/chatrelay/internal/registry"
	"github.com/driftlabs/chatrelay/internal/repository"
	"github.com/driftlabs/chatrelay/internal/service"
	"github.com/driftlabs/chatrelay/pkg/id"
	"github.com/driftlabs/chatrelay/pkg/log"
	"github.com/driftlabs/chatrelay/pkg/pubsub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Msg("starting chat relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable message log
	repo, err := repository.New(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize repository")
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	// Completion backend
	completer := ai.NewOpenAICompleter(cfg.AI)

	// Message-id strategy
	ids, err := id.New(cfg.ID.Strategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize id generator")
	}

	deps := service.Deps{
		Hub:       hub.NewHub(logger),
		Repo:      repo,
		Completer: completer,
		IDs:       ids,
	}

	// Optional cross-instance bridge
	if cfg.Bridge.Enabled {
		bus, err := pubsub.NewPubSub(cfg.Bridge)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize event bridge")
		}
		defer bus.Close()
		deps.Bus = bus
		logger.Info().Str("driver", cfg.Bridge.Driver).Msg("event bridge enabled")
	}

	// Optional room registry
	if cfg.Registry.Enabled {
		reg, err := registry.NewRedisRegistry(cfg.Registry)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize room registry")
		}
		defer reg.Close()
		deps.Registry = reg
		logger.Info().Str("address", cfg.Registry.Address).Msg("room registry enabled")
	}

	// Optional history cache
	if cfg.Cache.Enabled {
		histCache, err := cache.NewRedisHistoryCache(cfg.Cache)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize history cache")
		}
		defer histCache.Close()
		deps.HistoryCache = histCache
		logger.Info().Str("address", cfg.Cache.Address).Msg("history cache enabled")
	}

	relaySvc := service.NewRelayService(cfg, deps, logger)
	if err := relaySvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start relay service")
	}
	defer relaySvc.Stop()

	// HTTP + websocket surface
	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), log.GinMiddleware(logger))

	wsHandler := handler.NewWSHandler(relaySvc, cfg.WebSocket)
	router.GET("/ws", wsHandler.HandleWebSocket)

	httpHandler := handler.NewHTTPHandler(relaySvc)
	httpHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("chat relay stopped")
}
