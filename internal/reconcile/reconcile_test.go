package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/flightlake/legbuilder/internal/fleet"
	"github.com/flightlake/legbuilder/internal/partition"
	"github.com/flightlake/legbuilder/internal/storage"
)

func key(icao string, year int, m time.Month) partition.Key {
	return partition.Key{ICAO: icao, Month: partition.Month{Year: year, Mon: m}}
}

func TestYearsMostRecentFirst(t *testing.T) {
	got := Years(2019, 2021)
	want := []int{2021, 2020, 2019}
	if len(got) != len(want) {
		t.Fatalf("Years = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Years = %v, want %v", got, want)
		}
	}
	if ys := Years(2021, 2019); ys != nil {
		t.Errorf("inverted range should be empty, got %v", ys)
	}
}

func TestRequiredCoversFleetTimesMonths(t *testing.T) {
	airframes := []fleet.Aircraft{{ICAO: "aaa"}, {ICAO: "bbb"}}
	required := Required(airframes, Years(2022, 2023))

	if len(required) != 2*2*12 {
		t.Fatalf("required size = %d, want 48", len(required))
	}
	if !required.Contains(key("aaa", 2022, time.January)) {
		t.Error("missing (aaa, 2022-01)")
	}
	if !required.Contains(key("bbb", 2023, time.December)) {
		t.Error("missing (bbb, 2023-12)")
	}
	if required.Contains(key("ccc", 2022, time.January)) {
		t.Error("unexpected entity in required set")
	}
}

func TestTodoIsReadyIntersectRequiredMinusCompleted(t *testing.T) {
	required := partition.Set{}
	ready := partition.Set{}
	completed := partition.Set{}

	a := key("aaa", 2023, time.January)
	b := key("aaa", 2023, time.February)
	c := key("bbb", 2023, time.January)
	d := key("zzz", 2023, time.March) // ready but not required

	required.Add(a)
	required.Add(b)
	required.Add(c)

	ready.Add(a)
	ready.Add(c)
	ready.Add(d)

	completed.Add(c)

	todo := Todo(required, ready, completed)
	if len(todo) != 1 || todo[0] != a {
		t.Fatalf("Todo = %v, want [%v]", todo, a)
	}

	// No completed key is ever re-executed.
	for _, k := range todo {
		if completed.Contains(k) {
			t.Errorf("completed key %v in todo", k)
		}
	}
}

func TestTodoOrderIsDeterministic(t *testing.T) {
	required := partition.Set{}
	ready := partition.Set{}
	keys := []partition.Key{
		key("bbb", 2023, time.January),
		key("aaa", 2023, time.February),
		key("aaa", 2023, time.January),
	}
	for _, k := range keys {
		required.Add(k)
		ready.Add(k)
	}

	todo := Todo(required, ready, partition.Set{})
	want := []partition.Key{keys[2], keys[0], keys[1]}
	for i := range want {
		if todo[i] != want[i] {
			t.Fatalf("Todo order = %v, want %v", todo, want)
		}
	}
}

func TestScanCompletedSkipsForeignPaths(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	good := partition.V2.Path(key("aaa", 2023, time.January))
	store.Put(ctx, good, []byte("[]"))
	store.Put(ctx, "leg/v2/data/garbage.txt", []byte("x"))
	store.Put(ctx, "leg/v2/data/month=2023-01/other=5/data.json", []byte("x"))
	// Outside the data prefix entirely: not listed.
	store.Put(ctx, "leg/v2/status.json", []byte("{}"))

	completed, err := ScanCompleted(ctx, store, partition.V2, slog.Default())
	if err != nil {
		t.Fatalf("ScanCompleted failed: %v", err)
	}
	if len(completed) != 1 || !completed.Contains(key("aaa", 2023, time.January)) {
		t.Errorf("completed = %v", completed)
	}
}

func TestByYear(t *testing.T) {
	s := partition.Set{}
	s.Add(key("aaa", 2022, time.December))
	s.Add(key("aaa", 2023, time.January))
	s.Add(key("bbb", 2023, time.June))

	grouped := ByYear(s)
	if len(grouped) != 2 {
		t.Fatalf("groups = %v", grouped)
	}
	if len(grouped[2023]) != 2 || len(grouped[2022]) != 1 {
		t.Errorf("group sizes wrong: %v", grouped)
	}
}
