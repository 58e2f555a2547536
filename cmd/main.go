package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/sync-service/config"
	"github.com/fathima-sithara/sync-service/internal/delivery"
	"github.com/fathima-sithara/sync-service/internal/directory"
	"github.com/fathima-sithara/sync-service/internal/events"
	"github.com/fathima-sithara/sync-service/internal/handlers"
	"github.com/fathima-sithara/sync-service/internal/identity"
	"github.com/fathima-sithara/sync-service/internal/msgstore"
	"github.com/fathima-sithara/sync-service/internal/presence"
	"github.com/fathima-sithara/sync-service/internal/routes"
	"github.com/fathima-sithara/sync-service/internal/store"
	"github.com/fathima-sithara/sync-service/internal/syncengine"
	"github.com/fathima-sithara/sync-service/internal/utils"
	"github.com/fathima-sithara/sync-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := utils.NewLogger(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var st store.Store
	if cfg.Mongo.URI != "" {
		mongoStore, err := store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			logger.Fatalw("mongo init", "err", err)
		}
		st = mongoStore
		logger.Infow("durable store ready", "backend", "mongo", "db", cfg.Mongo.Database)
	} else {
		st = store.NewMemory()
		logger.Warnw("durable store ready", "backend", "memory")
	}

	var tracker presence.Tracker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalw("redis ping", "err", err)
		}
		tracker = presence.NewRedisTracker(rdb, cfg.Redis.Prefix)
		logger.Infow("presence ready", "backend", "redis")
	} else {
		tracker = presence.NewMemoryTracker()
		logger.Infow("presence ready", "backend", "memory")
	}

	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent, logger)
		defer producer.Close()
	}
	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = events.NewPublisher(cfg.NATS.URL, logger)
		if err != nil {
			logger.Fatalw("nats connect", "err", err)
		}
		defer publisher.Close()
	}

	var ident identity.Provider
	if cfg.JWT.Secret != "" {
		ident = identity.NewJWTProvider(cfg.JWT.Secret)
	} else {
		logger.Warn("jwt secret unset, running with static dev identity")
		ident = &identity.Static{User: identity.User{ID: "dev", DisplayName: "Dev User"}}
	}

	msgs := msgstore.New(logger)
	dir := directory.New(st, publisher, logger)
	engine := syncengine.New(st, msgs, dir, logger, syncengine.Options{
		PrimePageSize: cfg.Sync.PrimePageSize,
		BackoffBase:   cfg.Sync.BackoffBase,
		BackoffMax:    cfg.Sync.BackoffMax,
	})
	coord := delivery.New(st, msgs, producer, logger, delivery.Options{
		WriteTimeout:   cfg.Sync.WriteTimeout,
		MaxAutoRetries: cfg.Sync.MaxAutoRetries,
	})

	hub := ws.NewHub()
	wsHandler := ws.NewHandler(hub, engine, tracker, ident, logger)
	h := handlers.New(dir, engine, coord, tracker, ident, logger)

	app := fiber.New(fiber.Config{AppName: "sync-service"})
	routes.Register(app, h, wsHandler)

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		logger.Infow("starting sync service", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		logger.Fatalw("server error", "err", e)
	case s := <-sig:
		logger.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		logger.Warnw("fiber shutdown", "err", err)
	}
	engine.Shutdown()
	coord.Flush()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := st.Close(closeCtx); err != nil {
		logger.Warnw("store close", "err", err)
	}
	logger.Info("shutdown complete")
}
