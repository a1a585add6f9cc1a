package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"intake/internal/aws"
	"intake/internal/cache"
	"intake/internal/config"
	"intake/internal/controller"
	"intake/internal/database"
	"intake/internal/events"
	"intake/internal/mapping"
	"intake/internal/orchestrator"
	"intake/internal/rabbitmq"
	"intake/internal/server"
	"intake/internal/store"
	"intake/pkg/batchsvc"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	// .env is optional; it only supplies INTAKE_CONFIG in development.
	_ = godotenv.Load()

	configPath := os.Getenv("INTAKE_CONFIG")
	if configPath == "" {
		configPath = "config/config.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}

	client := batchsvc.New(
		cfg.BatchSvc.BaseURL,
		cfg.BatchSvc.APIKey,
		cfg.BatchSvc.RequestsPerMinute,
		time.Duration(cfg.BatchSvc.TimeoutSeconds)*time.Second,
	)
	defer client.Close()

	batchStore := store.New()

	mcfg := mapping.DefaultConfig()
	if len(cfg.Mapping.Fields) > 0 {
		mcfg.Fields = cfg.Mapping.Fields
	}
	if len(cfg.Mapping.Synonyms) > 0 {
		mcfg.Synonyms = cfg.Mapping.Synonyms
	}
	mcfg.AutoAcceptDelay = time.Duration(cfg.Mapping.AutoAcceptDelayMs) * time.Millisecond
	mcfg.PreviewRows = cfg.Mapping.PreviewRows
	resolver := mapping.NewResolver(mcfg)

	var redisCache cache.Cache
	if cfg.Redis.Address != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis cache")
		}
		defer redisCache.Close()
	}

	var rabbit rabbitmq.Client
	var publisher *events.Publisher
	if cfg.RabbitMQ.Host != "" {
		rabbit, err = rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer rabbit.Close()

		publisher, err = events.NewPublisher(rabbit, cfg.RabbitMQ)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to declare event topology")
		}
	}

	var db database.Database
	if cfg.MongoDB.URI != "" {
		db, err = database.New(cfg.MongoDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer db.Close(context.Background())
	}

	var stager orchestrator.Stager
	if cfg.S3.Bucket != "" {
		fileService, err := aws.NewFileService(cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize file staging")
		}
		stager = fileService
	}

	ic := controller.NewImportController(controller.ControllerDeps{
		Client:       client,
		Store:        batchStore,
		Resolver:     resolver,
		Cache:        redisCache,
		Events:       publisher,
		History:      db,
		PollInterval: time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		StuckAfter:   time.Duration(cfg.Queue.StuckAfterSeconds) * time.Second,
		Stager:       stager,
	})

	httpServer := server.New(*cfg, ic, db, redisCache, rabbit)

	go func() {
		log.Info().Int("port", cfg.Port).Str("app", cfg.AppName).Msg("Starting intake API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	// Cancel all live pollers before the HTTP surface goes away.
	ic.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
