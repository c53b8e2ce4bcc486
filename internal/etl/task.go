package etl

import (
	"context"
	"fmt"

	"github.com/flightlake/legbuilder/internal/partition"
	"github.com/flightlake/legbuilder/internal/track"
)

// processPartition is the unit of work for one key: extract the month's raw
// positions, transform them into legs, and load one schema-versioned blob.
// The write is a full overwrite, so reprocessing a key is idempotent.
func (e *Engine) processPartition(ctx context.Context, key partition.Key) error {
	// extract
	positions, err := e.src.Positions(ctx, key)
	if err != nil {
		return fmt.Errorf("extract %s: %w", key, err)
	}

	// transform
	legs := e.segmenter.Legs(positions)
	blob, err := e.encodeLegs(key, legs)
	if err != nil {
		return fmt.Errorf("transform %s: %w", key, err)
	}

	// load
	path := e.schema.Path(key)
	if err := e.store.Put(ctx, path, blob); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	e.log.Debug("written partition",
		"icao_number", key.ICAO,
		"month", key.Month.String(),
		"path", path,
		"legs", len(legs),
	)
	return nil
}

// encodeLegs builds the schema generation's record shape for one partition.
func (e *Engine) encodeLegs(key partition.Key, legs []track.Leg) ([]byte, error) {
	switch e.schema {
	case partition.V1:
		return e.encodeV1(key, legs)
	case partition.V2:
		return e.encodeV2(key, legs)
	default:
		return nil, fmt.Errorf("unknown schema %v", e.schema)
	}
}

func (e *Engine) encodeV1(key partition.Key, legs []track.Leg) ([]byte, error) {
	aircraft, ok := e.airframes[key.ICAO]
	if !ok {
		return nil, fmt.Errorf("aircraft %s not in fleet reference", key.ICAO)
	}
	model, ok := e.models[aircraft.Model]
	if !ok {
		return nil, fmt.Errorf("model %q of %s has no fuel burn profile", aircraft.Model, key.ICAO)
	}

	records := make([]track.RecordV1, 0, len(legs))
	for _, leg := range legs {
		records = append(records, track.RecordV1{
			TailNumber:            aircraft.TailNumber,
			Model:                 aircraft.Model,
			Start:                 leg.From.Time,
			End:                   leg.To.Time,
			FromLat:               leg.From.Lat,
			FromLon:               leg.From.Lon,
			ToLat:                 leg.To.Lat,
			ToLon:                 leg.To.Lon,
			DistanceKm:            leg.DistanceKm(),
			DurationHours:         leg.Duration().Hours(),
			CommercialEmissionsKg: int(e.emissions.CommercialKg(leg)),
			EmissionsKg:           int(e.emissions.BurnKg(model.GallonsPerHour, leg.Duration())),
		})
	}
	return track.EncodeV1(records)
}

func (e *Engine) encodeV2(key partition.Key, legs []track.Leg) ([]byte, error) {
	records := make([]track.RecordV2, 0, len(legs))
	for _, leg := range legs {
		records = append(records, track.RecordV2{
			ICAONumber:    key.ICAO,
			Start:         leg.From.Time,
			StartLat:      leg.From.Lat,
			StartLon:      leg.From.Lon,
			StartAltitude: leg.From.Altitude,
			End:           leg.To.Time,
			EndLat:        leg.To.Lat,
			EndLon:        leg.To.Lon,
			EndAltitude:   leg.To.Altitude,
			LengthKm:      leg.DistanceKm(),
		})
	}
	return track.EncodeV2(records)
}
