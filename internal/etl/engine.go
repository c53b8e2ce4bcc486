// Package etl drives one run of the leg dataset build: reconcile what should
// exist against what does, execute the remaining partition tasks under a
// bounded executor, then roll completed partitions up by year.
package etl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flightlake/legbuilder/internal/config"
	"github.com/flightlake/legbuilder/internal/executor"
	"github.com/flightlake/legbuilder/internal/fleet"
	"github.com/flightlake/legbuilder/internal/logging"
	"github.com/flightlake/legbuilder/internal/partition"
	"github.com/flightlake/legbuilder/internal/reconcile"
	"github.com/flightlake/legbuilder/internal/source"
	"github.com/flightlake/legbuilder/internal/storage"
	"github.com/flightlake/legbuilder/internal/track"
)

// Engine orchestrates the reconcile-execute-aggregate sequence.
type Engine struct {
	cfg       config.Config
	schema    partition.Schema
	store     storage.Store
	src       source.PositionSource
	registry  fleet.Registry
	segmenter track.Segmenter
	emissions track.Emissions
	log       *slog.Logger

	// Reference data fetched at the start of a run. Shared read-only by
	// all concurrent tasks.
	airframes map[string]fleet.Aircraft
	models    map[string]fleet.Model
}

// New creates an engine for the configured schema generation.
func New(cfg config.Config, store storage.Store, src source.PositionSource, registry fleet.Registry, segmenter track.Segmenter, emissions track.Emissions) (*Engine, error) {
	schema, err := partition.ParseSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		schema:    schema,
		store:     store,
		src:       src,
		registry:  registry,
		segmenter: segmenter,
		emissions: emissions,
		log:       logging.Component("engine").With("schema", schema.String()),
	}, nil
}

// Run executes one full pass. Setup and aggregation errors are fatal;
// individual partition failures are tolerated, logged, and retried
// implicitly by the next run.
func (e *Engine) Run(ctx context.Context) error {
	runID := logging.NewRunID()
	log := e.log.With("run_id", runID)
	log.Info("starting run",
		"years_from", e.cfg.Years.From,
		"years_to", e.cfg.Years.To,
		"country", e.cfg.Country,
	)

	if err := e.loadReference(ctx); err != nil {
		return err
	}

	required := reconcile.Required(e.fleetSlice(), reconcile.Years(e.cfg.Years.From, e.cfg.Years.To))
	log.Info("required", "count", len(required))

	completed, err := reconcile.ScanCompleted(ctx, e.store, e.schema, log)
	if err != nil {
		return err
	}
	log.Info("completed", "count", len(completed))

	available, err := e.src.Available(ctx)
	if err != nil {
		return fmt.Errorf("list available positions: %w", err)
	}
	ready := reconcile.Intersect(available, required)
	log.Info("ready", "count", len(ready))

	todo := reconcile.Todo(required, ready, completed)
	log.Info("todo", "count", len(todo))

	processed := e.execute(ctx, log, todo)
	log.Info("execution phase done", "processed", processed, "failed", len(todo)-processed)

	return e.aggregate(ctx, log, required)
}

// execute runs the partition tasks tolerantly: a failed partition is logged
// and left absent for the next run. Returns the number of partitions written.
func (e *Engine) execute(ctx context.Context, log *slog.Logger, todo []partition.Key) int {
	if len(todo) == 0 {
		return 0
	}

	tasks := make([]executor.Task[partition.Key], len(todo))
	for i, key := range todo {
		key := key
		tasks[i] = func(ctx context.Context) (partition.Key, error) {
			return key, e.processPartition(ctx, key)
		}
	}

	results, err := executor.Run(ctx, executor.Config{
		MaxInFlight: e.cfg.Perf.ETLConcurrency,
		Policy:      executor.Tolerant,
		RateLimit:   e.cfg.Perf.RateLimit,
	}, tasks)
	if err != nil {
		// Tolerant batches only fail on context cancellation.
		log.Warn("execution interrupted", "error", err)
	}

	processed := 0
	for _, r := range results {
		if r.Err != nil {
			logging.PartitionLogger(log, r.Value.ICAO, r.Value.Month.String()).
				Warn("partition task failed, will retry next run", "error", r.Err)
			continue
		}
		processed++
	}
	return processed
}

func (e *Engine) loadReference(ctx context.Context) error {
	airframes, err := e.registry.Aircraft(ctx)
	if err != nil {
		return fmt.Errorf("load fleet: %w", err)
	}
	airframes = fleet.Filter(airframes, e.cfg.Country)
	if len(airframes) == 0 {
		return fmt.Errorf("no tracked aircraft after country filter %q", e.cfg.Country)
	}

	e.airframes = make(map[string]fleet.Aircraft, len(airframes))
	for _, a := range airframes {
		e.airframes[a.ICAO] = a
	}

	if e.schema == partition.V1 {
		// Only the v1 record shape carries model-derived emissions.
		models, err := e.registry.Models(ctx)
		if err != nil {
			return fmt.Errorf("load models: %w", err)
		}
		e.models = models
	}
	return nil
}

func (e *Engine) fleetSlice() []fleet.Aircraft {
	out := make([]fleet.Aircraft, 0, len(e.airframes))
	for _, a := range e.airframes {
		out = append(out, a)
	}
	return out
}
