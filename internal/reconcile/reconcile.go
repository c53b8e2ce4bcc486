// Package reconcile computes the work remaining for a run: the required
// partition set, the completed set read back from storage, and their
// difference restricted to what the upstream source can currently serve.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flightlake/legbuilder/internal/fleet"
	"github.com/flightlake/legbuilder/internal/partition"
	"github.com/flightlake/legbuilder/internal/storage"
)

// Years returns the inclusive year range iterated most-recent-first.
func Years(from, to int) []int {
	if to < from {
		return nil
	}
	years := make([]int, 0, to-from+1)
	for y := to; y >= from; y-- {
		years = append(years, y)
	}
	return years
}

// Required builds the set of partitions the dataset is supposed to contain:
// one key per (tracked airframe, month) over the given years. Pure
// computation over fetched reference data.
func Required(airframes []fleet.Aircraft, years []int) partition.Set {
	required := make(partition.Set, len(airframes)*len(years)*12)
	for _, year := range years {
		for m := time.January; m <= time.December; m++ {
			month := partition.Month{Year: year, Mon: m}
			for _, a := range airframes {
				required.Add(partition.Key{ICAO: a.ICAO, Month: month})
			}
		}
	}
	return required
}

// ScanCompleted lists the schema's data prefix and decodes each path into a
// key. A path that fails to decode is a malformed or foreign entry; it is
// surfaced at warn level and skipped rather than aborting the listing.
func ScanCompleted(ctx context.Context, store storage.Store, schema partition.Schema, log *slog.Logger) (partition.Set, error) {
	paths, err := store.List(ctx, schema.DataPrefix())
	if err != nil {
		return nil, fmt.Errorf("list completed partitions: %w", err)
	}

	completed := make(partition.Set, len(paths))
	for _, path := range paths {
		key, err := schema.ParseKey(path)
		if err != nil {
			log.Warn("skipping unrecognized blob in dataset", "path", path, "error", err)
			continue
		}
		completed.Add(key)
	}
	return completed, nil
}

// Todo returns the ready keys that are required and not yet completed, in
// deterministic execution order: month ascending, then ICAO ascending.
func Todo(required, ready, completed partition.Set) []partition.Key {
	todo := partition.Set{}
	for key := range ready {
		if required.Contains(key) && !completed.Contains(key) {
			todo.Add(key)
		}
	}
	return todo.Sorted()
}

// Intersect returns the members of s that are also in other.
func Intersect(s, other partition.Set) partition.Set {
	out := partition.Set{}
	for key := range s {
		if other.Contains(key) {
			out.Add(key)
		}
	}
	return out
}

// ByYear groups a set by the year component of its keys.
func ByYear(s partition.Set) map[int]partition.Set {
	grouped := make(map[int]partition.Set)
	for key := range s {
		year := key.Month.Year
		if grouped[year] == nil {
			grouped[year] = partition.Set{}
		}
		grouped[year].Add(key)
	}
	return grouped
}
