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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MrMorningStark/chat/internal/auth"
	"github.com/MrMorningStark/chat/internal/config"
	"github.com/MrMorningStark/chat/internal/handler"
	"github.com/MrMorningStark/chat/internal/hub"
	"github.com/MrMorningStark/chat/internal/kafka"
	"github.com/MrMorningStark/chat/internal/presence"
	"github.com/MrMorningStark/chat/internal/registry"
	"github.com/MrMorningStark/chat/internal/repository"
	"github.com/MrMorningStark/chat/internal/service"
	"github.com/MrMorningStark/chat/internal/signaling"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	pkglog.Init(cfg.Log.Level, "chat", cfg.Log.Pretty)
	l := pkglog.L()

	instanceID := uuid.New().String()
	l.Info().Str("instance_id", instanceID).Int("port", cfg.Server.Port).Msg("starting chat service")

	// Presence store
	store, err := presence.NewRedisStore(cfg.Redis, instanceID)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize presence store")
	}
	defer store.Close()
	l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	// Storage
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	messages, err := repository.NewGormMessageRepository(db)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize message repository")
	}
	users, err := repository.NewGormUserRepository(db)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize user repository")
	}

	// Kafka producer (optional)
	var producer kafka.MessageProducer
	if cfg.Kafka.Brokers != "" {
		cp, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		producer = cp
		l.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}

	// Auth gate
	authMgr := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer)

	// Hub, session registry, signaling broker
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	reg := registry.New(wsHub, store, cfg.Redis.HeartbeatInterval)
	broker := signaling.NewBroker(reg, wsHub)

	chatSvc := service.NewChatService(
		wsHub, reg, broker, store,
		messages, users,
		authMgr, producer,
		instanceID, cfg.Database.PersistTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := chatSvc.Start(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to start chat service")
	}
	defer chatSvc.Stop()

	// HTTP routes
	router := mux.NewRouter()
	handler.NewWSHandler(wsHub, chatSvc).RegisterRoutes(router)
	handler.NewHTTPHandler(messages, users, store).RegisterRoutes(router, authMgr)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("chat service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down chat service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}

	l.Info().Msg("chat service stopped")
}
