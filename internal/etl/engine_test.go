package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flightlake/legbuilder/internal/config"
	"github.com/flightlake/legbuilder/internal/fleet"
	"github.com/flightlake/legbuilder/internal/partition"
	"github.com/flightlake/legbuilder/internal/source"
	"github.com/flightlake/legbuilder/internal/storage"
	"github.com/flightlake/legbuilder/internal/track"
)

// fakeSource serves canned positions and counts fetches per key.
type fakeSource struct {
	mu      sync.Mutex
	data    map[partition.Key][]track.Position
	fetches map[partition.Key]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:    make(map[partition.Key][]track.Position),
		fetches: make(map[partition.Key]int),
	}
}

func (f *fakeSource) add(key partition.Key, positions []track.Position) {
	f.data[key] = positions
}

func (f *fakeSource) Available(ctx context.Context) (partition.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := partition.Set{}
	for key := range f.data {
		set.Add(key)
	}
	return set, nil
}

func (f *fakeSource) Positions(ctx context.Context, key partition.Key) ([]track.Position, error) {
	f.mu.Lock()
	f.fetches[key]++
	f.mu.Unlock()
	positions, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrNoData, key)
	}
	return positions, nil
}

func (f *fakeSource) fetchCount(key partition.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[key]
}

func testConfig(schema string) config.Config {
	cfg := config.Default()
	cfg.Schema = schema
	cfg.Years = config.YearsConfig{From: 2023, To: 2023}
	cfg.Perf = config.PerfConfig{ETLConcurrency: 5, AggregateConcurrency: 5}
	return cfg
}

func testRegistry() *fleet.StaticRegistry {
	return &fleet.StaticRegistry{
		Fleet: []fleet.Aircraft{
			{ICAO: "aaa111", TailNumber: "N123AB", Model: "G650", Country: "US"},
			{ICAO: "bbb222", TailNumber: "N456CD", Model: "F8X", Country: "FR"},
		},
		ModelSpec: map[string]fleet.Model{
			"G650": {Name: "G650", GallonsPerHour: 450},
			"F8X":  {Name: "F8X", GallonsPerHour: 350},
		},
	}
}

func newTestEngine(t *testing.T, cfg config.Config, store storage.Store, src source.PositionSource) *Engine {
	t.Helper()
	e, err := New(cfg, store, src, testRegistry(), track.GapSegmenter{}, track.FuelBurnModel{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func monthKey(icao string, year int, m time.Month) partition.Key {
	return partition.Key{ICAO: icao, Month: partition.Month{Year: year, Mon: m}}
}

// monthPositions returns a track of three samples ten minutes apart, which
// the gap segmenter turns into exactly one leg.
func monthPositions(year int, m time.Month, lat float64) []track.Position {
	base := time.Date(year, m, 5, 10, 0, 0, 0, time.UTC)
	return []track.Position{
		{Time: base, Lat: lat, Lon: 0, Altitude: 100},
		{Time: base.Add(10 * time.Minute), Lat: lat + 1, Lon: 1, Altitude: 30000},
		{Time: base.Add(20 * time.Minute), Lat: lat + 2, Lon: 2, Altitude: 200},
	}
}

func readStatusDoc(t *testing.T, store storage.Store, schema partition.Schema) map[int]Status {
	t.Helper()
	data, ok, err := store.Get(context.Background(), schema.StatusPath())
	if err != nil || !ok {
		t.Fatalf("status document missing: ok=%v err=%v", ok, err)
	}
	var status map[int]Status
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("status document unreadable: %v", err)
	}
	return status
}

func TestRunBuildsOnlyReadyPartitions(t *testing.T) {
	store := storage.NewMemStore()
	src := newFakeSource()
	jan := monthKey("aaa111", 2023, time.January)
	src.add(jan, monthPositions(2023, time.January, 40))

	engine := newTestEngine(t, testConfig("v2"), store, src)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The ready partition was written.
	blob, ok, _ := store.Get(context.Background(), partition.V2.Path(jan))
	if !ok {
		t.Fatal("expected partition blob for (aaa111, 2023-01)")
	}
	records, err := track.DecodeV2(blob)
	if err != nil {
		t.Fatalf("partition blob unreadable: %v", err)
	}
	if len(records) != 1 || records[0].ICAONumber != "aaa111" {
		t.Errorf("unexpected records: %+v", records)
	}

	// Months without source data were not.
	feb := monthKey("aaa111", 2023, time.February)
	if _, ok, _ := store.Get(context.Background(), partition.V2.Path(feb)); ok {
		t.Error("partition for unavailable month should not exist")
	}

	// Status counts the full required set but only real completions.
	status := readStatusDoc(t, store, partition.V2)
	if got := status[2023]; got.ProcessedCount != 1 || got.RequiredCount != 24 {
		t.Errorf("status = %+v, want processed=1 required=24", got)
	}
	if status[2023].URL == "" {
		t.Error("status entry should carry the rollup URL")
	}

	// Rollup blob holds exactly the one partition's legs.
	rollup, ok, _ := store.Get(context.Background(), partition.V2.RollupPath(2023))
	if !ok {
		t.Fatal("expected yearly rollup blob")
	}
	merged, err := track.DecodeV2(rollup)
	if err != nil || len(merged) != 1 {
		t.Errorf("rollup = %d records, err=%v", len(merged), err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store := storage.NewMemStore()
	src := newFakeSource()
	jan := monthKey("aaa111", 2023, time.January)
	mar := monthKey("bbb222", 2023, time.March)
	src.add(jan, monthPositions(2023, time.January, 40))
	src.add(mar, monthPositions(2023, time.March, 50))

	engine := newTestEngine(t, testConfig("v2"), store, src)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	firstJan, _, _ := store.Get(context.Background(), partition.V2.Path(jan))
	firstMar, _, _ := store.Get(context.Background(), partition.V2.Path(mar))
	firstCount := store.Len()

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	// Completed keys are never re-executed.
	if n := src.fetchCount(jan); n != 1 {
		t.Errorf("(aaa111, 2023-01) fetched %d times, want 1", n)
	}
	if n := src.fetchCount(mar); n != 1 {
		t.Errorf("(bbb222, 2023-03) fetched %d times, want 1", n)
	}

	// Byte-identical blobs, no new or renamed entries.
	secondJan, _, _ := store.Get(context.Background(), partition.V2.Path(jan))
	secondMar, _, _ := store.Get(context.Background(), partition.V2.Path(mar))
	if string(firstJan) != string(secondJan) || string(firstMar) != string(secondMar) {
		t.Error("partition blobs changed across idempotent reruns")
	}
	if store.Len() != firstCount {
		t.Errorf("blob count changed: %d -> %d", firstCount, store.Len())
	}
}

func TestTolerantExecutionRetriesFailedPartitionNextRun(t *testing.T) {
	store := storage.NewMemStore()
	src := newFakeSource()
	jan := monthKey("aaa111", 2023, time.January)
	mar := monthKey("bbb222", 2023, time.March)
	src.add(jan, monthPositions(2023, time.January, 40))
	src.add(mar, monthPositions(2023, time.March, 50))

	// Transient storage failure for one partition's write.
	marPath := partition.V2.Path(mar)
	store.FailPut = func(key string) error {
		if key == marPath {
			return errors.New("backend unavailable")
		}
		return nil
	}

	engine := newTestEngine(t, testConfig("v2"), store, src)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("run with tolerated failure should succeed: %v", err)
	}

	// Only the successful partition landed; status reflects it.
	if _, ok, _ := store.Get(context.Background(), marPath); ok {
		t.Fatal("failed partition should not exist")
	}
	status := readStatusDoc(t, store, partition.V2)
	if got := status[2023].ProcessedCount; got != 1 {
		t.Errorf("processed = %d, want 1", got)
	}

	// Next run picks the failed key up again and completes it.
	store.FailPut = nil
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), marPath); !ok {
		t.Fatal("failed partition should be rebuilt on the next run")
	}
	if n := src.fetchCount(mar); n != 2 {
		t.Errorf("(bbb222, 2023-03) fetched %d times, want 2", n)
	}
	status = readStatusDoc(t, store, partition.V2)
	if got := status[2023].ProcessedCount; got != 2 {
		t.Errorf("processed after retry = %d, want 2", got)
	}
}

func TestCorruptPartitionAbortsYearRollupKeepingPriorState(t *testing.T) {
	store := storage.NewMemStore()
	src := newFakeSource()
	jan := monthKey("aaa111", 2023, time.January)
	src.add(jan, monthPositions(2023, time.January, 40))

	engine := newTestEngine(t, testConfig("v2"), store, src)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	goodRollup, _, _ := store.Get(context.Background(), partition.V2.RollupPath(2023))
	goodStatus := readStatusDoc(t, store, partition.V2)[2023]

	// Corrupt the completed partition and add a second ready month so the
	// next run has work and re-aggregates.
	ctx := context.Background()
	store.Put(ctx, partition.V2.Path(jan), []byte("{corrupt"))
	feb := monthKey("aaa111", 2023, time.February)
	src.add(feb, monthPositions(2023, time.February, 45))

	err := engine.Run(ctx)
	if err == nil {
		t.Fatal("run should fail when a year's rollup cannot be built")
	}
	if !errors.Is(err, track.ErrBadRecord) {
		t.Errorf("error = %v, want ErrBadRecord", err)
	}

	// Prior rollup and prior status entry are untouched.
	rollup, _, _ := store.Get(ctx, partition.V2.RollupPath(2023))
	if string(rollup) != string(goodRollup) {
		t.Error("rollup was overwritten with partial data")
	}
	status := readStatusDoc(t, store, partition.V2)[2023]
	if status != goodStatus {
		t.Errorf("status entry changed: %+v -> %+v", goodStatus, status)
	}
}

func TestV1PipelineEnrichesRecords(t *testing.T) {
	store := storage.NewMemStore()
	src := newFakeSource()
	jan := monthKey("aaa111", 2023, time.January)
	src.add(jan, monthPositions(2023, time.January, 40))

	engine := newTestEngine(t, testConfig("v1"), store, src)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	blob, ok, _ := store.Get(context.Background(), partition.V1.Path(jan))
	if !ok {
		t.Fatal("expected v1 partition blob")
	}
	records, err := track.DecodeV1(blob)
	if err != nil {
		t.Fatalf("v1 blob unreadable: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.TailNumber != "N123AB" || rec.Model != "G650" {
		t.Errorf("record not enriched from fleet reference: %+v", rec)
	}
	if rec.EmissionsKg <= 0 || rec.CommercialEmissionsKg <= 0 {
		t.Errorf("emissions not computed: %+v", rec)
	}

	// The v1 run never touches the v2 generation.
	keys, _ := store.List(context.Background(), "leg/v2/")
	if len(keys) != 0 {
		t.Errorf("v1 run wrote into v2 namespace: %v", keys)
	}
}

func TestAggregationUnionsAllCompletedPartitions(t *testing.T) {
	store := storage.NewMemStore()
	src := newFakeSource()

	months := []time.Month{time.January, time.February, time.March}
	for _, m := range months {
		src.add(monthKey("aaa111", 2023, m), monthPositions(2023, m, 40))
		src.add(monthKey("bbb222", 2023, m), monthPositions(2023, m, 50))
	}

	engine := newTestEngine(t, testConfig("v2"), store, src)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rollup, ok, _ := store.Get(context.Background(), partition.V2.RollupPath(2023))
	if !ok {
		t.Fatal("expected yearly rollup")
	}
	merged, err := track.DecodeV2(rollup)
	if err != nil {
		t.Fatalf("rollup unreadable: %v", err)
	}
	// One leg per (aircraft, month): no duplicates, no omissions.
	if len(merged) != 6 {
		t.Fatalf("rollup has %d legs, want 6", len(merged))
	}
	seen := map[string]int{}
	for _, r := range merged {
		seen[r.ICAONumber+"/"+r.Start.Format("2006-01")]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("leg %s appears %d times", k, n)
		}
	}

	status := readStatusDoc(t, store, partition.V2)
	if got := status[2023]; got.ProcessedCount != 6 || got.RequiredCount != 24 {
		t.Errorf("status = %+v, want processed=6 required=24", got)
	}
}
