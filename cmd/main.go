package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/taskhive/realtime-service/internal/bridge"
	"github.com/taskhive/realtime-service/internal/config"
	"github.com/taskhive/realtime-service/internal/handler"
	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/internal/registry"
	"github.com/taskhive/realtime-service/internal/service"
	"github.com/taskhive/realtime-service/pkg/log"
	"github.com/taskhive/realtime-service/pkg/pubsub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "realtime-service"})
	logger := log.L()
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting realtime service")

	reg, err := registry.NewRedisRegistry(cfg.Redis, cfg.Server.AdvertiseAddress)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize redis registry")
	}
	defer reg.Close()
	logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	wsHub := hub.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := uuid.New().String()

	var publisher bridge.Publisher = bridge.Noop{}
	if cfg.PubSub.Enabled {
		if cfg.PubSub.Driver == "kafka" && cfg.PubSub.Kafka.GroupID == "" {
			// Fan-out needs a consumer group per instance.
			cfg.PubSub.Kafka.GroupID = "realtime-" + instanceID
		}
		bus, err := pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize event bus")
		}
		defer bus.Close()

		br := bridge.New(wsHub, bus, instanceID)
		if err := br.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start event bridge")
		}
		defer br.Stop()
		publisher = br
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("event bridge enabled")
	}

	svc := service.NewRealtimeService(wsHub, reg, publisher)

	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start realtime service")
	}
	defer svc.Stop()

	wsHandler := handler.NewWSHandler(wsHub, svc, cfg.WebSocket)
	httpHandler := handler.NewHTTPHandler(wsHub, svc, cfg.InternalAPI.Token)

	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(logger))
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("realtime service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down realtime service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("realtime service stopped")
}
