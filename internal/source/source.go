// Package source provides the upstream raw position feed. Availability of a
// (aircraft, month) in the source is the readiness precondition for building
// that partition.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/flightlake/legbuilder/internal/partition"
	"github.com/flightlake/legbuilder/internal/storage"
	"github.com/flightlake/legbuilder/internal/track"
)

// ErrNoData is returned when the source holds no positions for a key that
// was expected to be available.
var ErrNoData = errors.New("no position data for partition")

// PositionSource is the upstream collaborator the engine extracts from.
type PositionSource interface {
	// Available returns the set of keys whose raw positions the source can
	// currently serve.
	Available(ctx context.Context) (partition.Set, error)

	// Positions fetches one month of positions, ordered by time.
	Positions(ctx context.Context, key partition.Key) ([]track.Position, error)
}

// DefaultPrefix is where the ingest pipeline drops monthly position blobs.
const DefaultPrefix = "position/"

// positionRecord is the stored shape of one trajectory sample.
type positionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Altitude  float64   `json:"altitude"`
}

// BlobSource reads monthly position blobs from object storage. Blobs live at
// <prefix>icao_number=<id>/month=<yyyy-mm>/data.json, optionally
// zstd-compressed with a .zst suffix.
type BlobSource struct {
	store   storage.Store
	prefix  string
	log     *slog.Logger
	zstdDec *zstd.Decoder
}

// NewBlobSource creates a position source over the given store and prefix.
func NewBlobSource(store storage.Store, prefix string, log *slog.Logger) (*BlobSource, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &BlobSource{store: store, prefix: prefix, log: log, zstdDec: dec}, nil
}

func (s *BlobSource) key(k partition.Key) string {
	return fmt.Sprintf("%sicao_number=%s/month=%s/data.json", s.prefix, k.ICAO, k.Month)
}

// Available implements PositionSource by listing the position prefix.
// Undecodable entries are logged and skipped.
func (s *BlobSource) Available(ctx context.Context) (partition.Set, error) {
	paths, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	available := partition.Set{}
	for _, path := range paths {
		key, err := s.parseKey(path)
		if err != nil {
			s.log.Warn("skipping unrecognized position blob", "path", path, "error", err)
			continue
		}
		available.Add(key)
	}
	return available, nil
}

func (s *BlobSource) parseKey(path string) (partition.Key, error) {
	rest, ok := strings.CutPrefix(path, s.prefix)
	if !ok {
		return partition.Key{}, fmt.Errorf("%w: %q lacks prefix %q", partition.ErrBadPath, path, s.prefix)
	}
	rest = strings.TrimSuffix(rest, ".zst")
	rest, ok = strings.CutSuffix(rest, "/data.json")
	if !ok {
		return partition.Key{}, fmt.Errorf("%w: %q has no data.json filename", partition.ErrBadPath, path)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return partition.Key{}, fmt.Errorf("%w: %q has %d segments", partition.ErrBadPath, path, len(parts))
	}
	icao, ok := strings.CutPrefix(parts[0], "icao_number=")
	if !ok || icao == "" {
		return partition.Key{}, fmt.Errorf("%w: bad segment %q", partition.ErrBadPath, parts[0])
	}
	monthPart, ok := strings.CutPrefix(parts[1], "month=")
	if !ok {
		return partition.Key{}, fmt.Errorf("%w: bad segment %q", partition.ErrBadPath, parts[1])
	}
	month, err := partition.ParseMonth(monthPart)
	if err != nil {
		return partition.Key{}, err
	}
	return partition.Key{ICAO: icao, Month: month}, nil
}

// Positions implements PositionSource. The plain blob is preferred; the
// .zst variant is decompressed when only it exists.
func (s *BlobSource) Positions(ctx context.Context, key partition.Key) ([]track.Position, error) {
	blobKey := s.key(key)

	data, ok, err := s.store.Get(ctx, blobKey)
	if err != nil {
		return nil, fmt.Errorf("fetch positions %s: %w", blobKey, err)
	}
	if !ok {
		compressed, okZ, err := s.store.Get(ctx, blobKey+".zst")
		if err != nil {
			return nil, fmt.Errorf("fetch positions %s.zst: %w", blobKey, err)
		}
		if !okZ {
			return nil, fmt.Errorf("%w: %s", ErrNoData, key)
		}
		data, err = s.zstdDec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress %s.zst: %w", blobKey, err)
		}
	}

	var records []positionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse positions %s: %w", blobKey, err)
	}

	positions := make([]track.Position, 0, len(records))
	for _, r := range records {
		positions = append(positions, track.Position{
			Time:     r.Timestamp,
			Lat:      r.Lat,
			Lon:      r.Lon,
			Altitude: r.Altitude,
		})
	}
	return positions, nil
}

// Close releases decoder resources.
func (s *BlobSource) Close() {
	if s.zstdDec != nil {
		s.zstdDec.Close()
	}
}

// EncodePositions serializes positions into the stored blob shape. Ingest
// tooling and tests share it so fixtures match production layout.
func EncodePositions(positions []track.Position) ([]byte, error) {
	records := make([]positionRecord, 0, len(positions))
	for _, p := range positions {
		records = append(records, positionRecord{
			Timestamp: p.Time,
			Lat:       p.Lat,
			Lon:       p.Lon,
			Altitude:  p.Altitude,
		})
	}
	return json.Marshal(records)
}
