package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/flightlake/legbuilder/internal/executor"
	"github.com/flightlake/legbuilder/internal/partition"
	"github.com/flightlake/legbuilder/internal/reconcile"
	"github.com/flightlake/legbuilder/internal/track"
)

// Status is one year's entry in the status document.
type Status struct {
	RequiredCount  int    `json:"required_count"`
	ProcessedCount int    `json:"processed_count"`
	URL            string `json:"url,omitempty"`
}

// aggregate re-scans the completed set, groups it by year, merges each
// year's partitions into one rollup blob, and updates the status document.
//
// Reads within a year are fail-fast: a partial rollup would misrepresent
// completeness, so a year with an unreadable partition keeps its previous
// rollup and previous status entry. Other years still aggregate; the joined
// per-year errors are returned so the run exits non-zero.
func (e *Engine) aggregate(ctx context.Context, log *slog.Logger, required partition.Set) error {
	completed, err := reconcile.ScanCompleted(ctx, e.store, e.schema, log)
	if err != nil {
		return err
	}
	completed = reconcile.Intersect(completed, required)

	completedByYear := reconcile.ByYear(completed)
	requiredByYear := reconcile.ByYear(required)

	status, err := e.readStatus(ctx, log)
	if err != nil {
		return err
	}

	years := make([]int, 0, len(completedByYear))
	for year := range completedByYear {
		years = append(years, year)
	}
	sort.Ints(years)

	var yearErrs []error
	for _, year := range years {
		keys := completedByYear[year]
		if err := e.rollupYear(ctx, log, year, keys); err != nil {
			log.Error("yearly rollup aborted, keeping previous state",
				"year", year, "error", err)
			yearErrs = append(yearErrs, fmt.Errorf("year %d: %w", year, err))
			continue
		}
		status[year] = Status{
			RequiredCount:  len(requiredByYear[year]),
			ProcessedCount: len(keys),
			URL:            e.store.URI(e.schema.RollupPath(year)),
		}
		log.Info("yearly rollup written",
			"year", year,
			"required", len(requiredByYear[year]),
			"processed", len(keys),
		)
	}

	if err := e.writeStatus(ctx, status); err != nil {
		return err
	}
	log.Info("status written", "path", e.schema.StatusPath(), "years", len(status))

	return errors.Join(yearErrs...)
}

// rollupYear reads every completed partition of the year concurrently and
// writes the merged blob. Order across partitions is unspecified beyond the
// deterministic submission order; order within each partition is preserved.
func (e *Engine) rollupYear(ctx context.Context, log *slog.Logger, year int, keys partition.Set) error {
	ordered := keys.Sorted()

	tasks := make([]executor.Task[[]byte], len(ordered))
	for i, key := range ordered {
		key := key
		tasks[i] = func(ctx context.Context) ([]byte, error) {
			path := e.schema.Path(key)
			data, ok, err := e.store.Get(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			if !ok {
				return nil, fmt.Errorf("completed partition %s vanished", path)
			}
			return data, nil
		}
	}

	log.Info("reading completed partitions", "year", year, "count", len(ordered))
	results, err := executor.Run(ctx, executor.Config{
		MaxInFlight: e.cfg.Perf.AggregateConcurrency,
		Policy:      executor.FailFast,
	}, tasks)
	if err != nil {
		return err
	}

	blobs := make([][]byte, len(results))
	for i, r := range results {
		blobs[i] = r.Value
	}

	merged, count, err := track.Merge(e.schema, blobs)
	if err != nil {
		return err
	}

	path := e.schema.RollupPath(year)
	if err := e.store.Put(ctx, path, merged); err != nil {
		return fmt.Errorf("write rollup %s: %w", path, err)
	}
	log.Debug("rollup blob written", "path", path, "legs", count)
	return nil
}

// readStatus loads the previous status document so entries for years that
// are not re-aggregated this run survive the overwrite.
func (e *Engine) readStatus(ctx context.Context, log *slog.Logger) (map[int]Status, error) {
	data, ok, err := e.store.Get(ctx, e.schema.StatusPath())
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if !ok {
		return map[int]Status{}, nil
	}

	var status map[int]Status
	if err := json.Unmarshal(data, &status); err != nil {
		log.Warn("previous status document unreadable, starting fresh", "error", err)
		return map[int]Status{}, nil
	}
	return status, nil
}

func (e *Engine) writeStatus(ctx context.Context, status map[int]Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := e.store.Put(ctx, e.schema.StatusPath(), data); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
