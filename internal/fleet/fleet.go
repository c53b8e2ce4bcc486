// Package fleet provides the reference data of tracked airframes: which
// aircraft the dataset covers and the per-model fuel burn used for the v1
// emissions estimate.
package fleet

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"

	"github.com/flightlake/legbuilder/internal/storage"
)

// Aircraft is one tracked airframe.
type Aircraft struct {
	ICAO       string // ICAO hex identifier, the partition entity id
	TailNumber string
	Model      string
	Country    string // ISO 3166 registration country
}

// Model is one airframe model's fuel burn profile.
type Model struct {
	Name           string
	GallonsPerHour float64
}

// Registry lists the tracked fleet. It is an external collaborator; the
// engine depends only on this interface.
type Registry interface {
	// Aircraft returns every tracked airframe.
	Aircraft(ctx context.Context) ([]Aircraft, error)

	// Models returns fuel burn profiles keyed by model name.
	Models(ctx context.Context) (map[string]Model, error)
}

// Filter restricts a fleet to one registration country. An empty country
// keeps the whole fleet.
func Filter(fleet []Aircraft, country string) []Aircraft {
	if country == "" {
		return fleet
	}
	var out []Aircraft
	for _, a := range fleet {
		if a.Country == country {
			out = append(out, a)
		}
	}
	return out
}

// BlobRegistry reads the reference CSVs from the same blob store the dataset
// lives in.
type BlobRegistry struct {
	store       storage.Store
	aircraftKey string
	modelsKey   string
}

// NewBlobRegistry creates a registry over the given store keys.
func NewBlobRegistry(store storage.Store, aircraftKey, modelsKey string) *BlobRegistry {
	return &BlobRegistry{store: store, aircraftKey: aircraftKey, modelsKey: modelsKey}
}

// Aircraft implements Registry.
func (r *BlobRegistry) Aircraft(ctx context.Context) ([]Aircraft, error) {
	data, ok, err := r.store.Get(ctx, r.aircraftKey)
	if err != nil {
		return nil, fmt.Errorf("fetch aircraft reference: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("aircraft reference %s not found", r.aircraftKey)
	}

	rows, err := readCSV(data, []string{"icao_number", "tail_number", "model", "country"})
	if err != nil {
		return nil, fmt.Errorf("aircraft reference %s: %w", r.aircraftKey, err)
	}

	fleet := make([]Aircraft, 0, len(rows))
	for _, row := range rows {
		fleet = append(fleet, Aircraft{
			ICAO:       row[0],
			TailNumber: row[1],
			Model:      row[2],
			Country:    row[3],
		})
	}
	return fleet, nil
}

// Models implements Registry.
func (r *BlobRegistry) Models(ctx context.Context) (map[string]Model, error) {
	data, ok, err := r.store.Get(ctx, r.modelsKey)
	if err != nil {
		return nil, fmt.Errorf("fetch model reference: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("model reference %s not found", r.modelsKey)
	}

	rows, err := readCSV(data, []string{"model", "gph"})
	if err != nil {
		return nil, fmt.Errorf("model reference %s: %w", r.modelsKey, err)
	}

	models := make(map[string]Model, len(rows))
	for _, row := range rows {
		gph, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("model reference %s: bad gph %q: %w", r.modelsKey, row[1], err)
		}
		models[row[0]] = Model{Name: row[0], GallonsPerHour: gph}
	}
	return models, nil
}

func readCSV(data []byte, header []string) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("empty reference file")
	}
	for i, name := range header {
		if rows[0][i] != name {
			return nil, fmt.Errorf("unexpected header %v, want %v", rows[0], header)
		}
	}
	return rows[1:], nil
}

// StaticRegistry serves a fixed fleet. Used by tests and local runs.
type StaticRegistry struct {
	Fleet     []Aircraft
	ModelSpec map[string]Model
}

// Aircraft implements Registry.
func (r *StaticRegistry) Aircraft(ctx context.Context) ([]Aircraft, error) {
	return r.Fleet, nil
}

// Models implements Registry.
func (r *StaticRegistry) Models(ctx context.Context) (map[string]Model, error) {
	return r.ModelSpec, nil
}
