// Package partition defines the (aircraft, month) partition keys of the leg
// dataset and the hive-style path codec for each schema generation.
package partition

import (
	"fmt"
	"sort"
	"time"
)

// Month is a calendar month, the time granularity of partitioning.
type Month struct {
	Year int
	Mon  time.Month
}

// MonthOf returns the month containing t (UTC).
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Mon: t.Month()}
}

// String renders the month as "yyyy-mm", the hive segment value format.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Mon))
}

// ParseMonth parses a "yyyy-mm" segment value. Anything but four digits,
// a hyphen and two digits naming a real month is rejected; a partial digit
// match must not decode to a valid-looking key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: bad month %q", ErrBadPath, s)
	}
	return Month{Year: t.Year(), Mon: t.Month()}, nil
}

// Before reports whether m precedes other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Mon < other.Mon
}

// Key identifies one partition: the legs of one aircraft in one month.
type Key struct {
	ICAO  string // ICAO hex identifier of the airframe
	Month Month
}

func (k Key) String() string {
	return k.ICAO + "/" + k.Month.String()
}

// Set is a set of partition keys.
type Set map[Key]struct{}

// Add inserts k into the set.
func (s Set) Add(k Key) { s[k] = struct{}{} }

// Contains reports membership of k.
func (s Set) Contains(k Key) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the keys ordered by month ascending, then ICAO ascending.
// Submission order is deterministic across runs so partial progress and logs
// are reproducible.
func (s Set) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month.Before(out[j].Month)
		}
		return out[i].ICAO < out[j].ICAO
	})
	return out
}
