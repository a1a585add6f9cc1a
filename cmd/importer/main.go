package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"intake/internal/config"
	"intake/internal/mapping"
	"intake/internal/model"
	"intake/internal/orchestrator"
	"intake/internal/store"
	"intake/pkg/batchsvc"
)

// importer enqueues local files and waits for every entry to reach a
// terminal state, printing per-file outcomes.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	_ = godotenv.Load()

	if len(os.Args) < 3 {
		fmt.Println("Usage: importer <source_type> <file> [file...]")
		fmt.Println("Example: importer products ./products.csv")
		os.Exit(1)
	}

	configPath := os.Getenv("INTAKE_CONFIG")
	if configPath == "" {
		configPath = "config/config.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	sourceType := model.SourceType(os.Args[1])
	paths := os.Args[2:]

	client := batchsvc.New(
		cfg.BatchSvc.BaseURL,
		cfg.BatchSvc.APIKey,
		cfg.BatchSvc.RequestsPerMinute,
		time.Duration(cfg.BatchSvc.TimeoutSeconds)*time.Second,
	)
	defer client.Close()

	batchStore := store.New()
	queue := orchestrator.NewQueue(client, batchStore, orchestrator.QueueOptions{
		PollInterval: time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		StuckAfter:   time.Duration(cfg.Queue.StuckAfterSeconds) * time.Second,
	})
	defer queue.Shutdown()

	resolver := mapping.NewResolver(mapping.DefaultConfig())

	ctx := context.Background()

	inputs := make([]orchestrator.FileInput, 0, len(paths))
	openFiles := make([]*os.File, 0, len(paths))
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Cannot open file")
		}
		openFiles = append(openFiles, file)
		inputs = append(inputs, orchestrator.FileInput{
			Name:       filepath.Base(path),
			Content:    file,
			SourceType: sourceType,
		})
	}

	queue.Add(ctx, inputs...)
	log.Info().Int("files", len(inputs)).Msg("Files enqueued, waiting for results")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		entries := queue.Entries()
		allDone := true
		for _, entry := range entries {
			if !entry.Status.Terminal() && entry.Status != model.EntryReady {
				allDone = false
			}
		}
		if allDone {
			for _, file := range openFiles {
				file.Close()
			}
			report(resolver, batchStore, entries)
			return
		}
	}
}

func report(resolver *mapping.Resolver, batchStore *store.Store, entries []model.QueueEntry) {
	for _, entry := range entries {
		switch entry.Status {
		case model.EntryError:
			fmt.Printf("%s: FAILED - %s\n", entry.Name, entry.Error)
		case model.EntryReady:
			items := batchStore.Items(entry.BatchID)
			fmt.Printf("%s: ready, %d rows (batch %s)\n", entry.Name, len(items), entry.BatchID)
			if len(items) > 0 {
				columns := make([]string, 0, len(items[0].Raw))
				for column := range items[0].Raw {
					columns = append(columns, column)
				}
				suggestion := resolver.Suggest(columns)
				fmt.Printf("  suggested mapping: %v\n", suggestion)
			}
		default:
			fmt.Printf("%s: %s\n", entry.Name, entry.Status)
		}
	}
}
