package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flightlake/legbuilder/internal/config"
	"github.com/flightlake/legbuilder/internal/etl"
	"github.com/flightlake/legbuilder/internal/fleet"
	"github.com/flightlake/legbuilder/internal/logging"
	"github.com/flightlake/legbuilder/internal/source"
	"github.com/flightlake/legbuilder/internal/storage"
	"github.com/flightlake/legbuilder/internal/track"
)

// Version information (set via ldflags)
var (
	version = "v0.1.0"
	gitSHA  = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "path to YAML config file")
		accessKey       = flag.String("access-key", "", "access key for the remote storage")
		secretAccessKey = flag.String("secret-access-key", "", "secret access key for the remote storage")
		country         = flag.String("country", "", "optional ISO 3166 country to restrict the fleet to")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	if *country != "" {
		cfg.Country = *country
	}

	// The S3 driver reads credentials from the standard environment.
	if *accessKey != "" {
		os.Setenv("AWS_ACCESS_KEY_ID", *accessKey)
	}
	if *secretAccessKey != "" {
		os.Setenv("AWS_SECRET_ACCESS_KEY", *secretAccessKey)
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.Info("legbuilder", "version", version, "git_sha", gitSHA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		log.Fatalf("[main] failed to create storage: %v", err)
	}
	defer store.Close()

	src, err := source.NewBlobSource(store, cfg.Source.Prefix, logging.Component("source"))
	if err != nil {
		log.Fatalf("[main] failed to create position source: %v", err)
	}
	defer src.Close()

	registry := fleet.NewBlobRegistry(store, cfg.Reference.AircraftKey, cfg.Reference.ModelsKey)

	engine, err := etl.New(cfg, store, src, registry, track.GapSegmenter{}, track.FuelBurnModel{})
	if err != nil {
		log.Fatalf("[main] failed to create engine: %v", err)
	}

	if err := engine.Run(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("shutdown before completion")
			os.Exit(1)
		}
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	slog.Info("run complete")
}
