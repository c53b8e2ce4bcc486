package partition

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadPath is returned when a storage path does not match the schema's
// partition key format.
var ErrBadPath = errors.New("path does not match partition key format")

// Schema identifies an on-disk generation of the leg dataset. The two
// generations are incompatible: they differ in path layout, filename and
// record shape, and each codec rejects the other's paths.
type Schema int

const (
	// V1 is the flat-row generation: icao_number=<id>/month=<yyyy-mm>/data.csv
	// under leg/v1/data/, with enriched CSV rows (tail number, model,
	// emissions estimates).
	V1 Schema = iota + 1

	// V2 is the normalized generation: month=<yyyy-mm>/icao_number=<id>/data.json
	// under leg/v2/data/, with JSON records carrying altitudes and path length.
	V2
)

// ParseSchema parses a version label ("v1" | "v2").
func ParseSchema(label string) (Schema, error) {
	switch label {
	case "v1":
		return V1, nil
	case "v2":
		return V2, nil
	default:
		return 0, fmt.Errorf("unknown schema version %q", label)
	}
}

func (s Schema) String() string {
	switch s {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("schema(%d)", int(s))
	}
}

// Root returns the dataset root prefix, e.g. "leg/v2/".
func (s Schema) Root() string { return "leg/" + s.String() + "/" }

// DataPrefix returns the prefix holding partition blobs, e.g. "leg/v2/data/".
func (s Schema) DataPrefix() string { return s.Root() + "data/" }

// Filename returns the literal blob filename of this generation.
func (s Schema) Filename() string {
	if s == V1 {
		return "data.csv"
	}
	return "data.json"
}

// segments returns the hive segment names in path order.
func (s Schema) segments() [2]string {
	if s == V1 {
		return [2]string{"icao_number", "month"}
	}
	return [2]string{"month", "icao_number"}
}

// Path encodes a partition key into its storage path.
func (s Schema) Path(k Key) string {
	values := map[string]string{
		"icao_number": k.ICAO,
		"month":       k.Month.String(),
	}
	names := s.segments()
	return s.DataPrefix() +
		names[0] + "=" + values[names[0]] + "/" +
		names[1] + "=" + values[names[1]] + "/" +
		s.Filename()
}

// ParseKey decodes a storage path produced by Path back into its key.
// Paths under a different prefix, with out-of-order or misnamed segments,
// or with a foreign filename are rejected with ErrBadPath.
func (s Schema) ParseKey(path string) (Key, error) {
	rest, ok := strings.CutPrefix(path, s.DataPrefix())
	if !ok {
		return Key{}, fmt.Errorf("%w: %q lacks prefix %q", ErrBadPath, path, s.DataPrefix())
	}
	rest, ok = strings.CutSuffix(rest, "/"+s.Filename())
	if !ok {
		return Key{}, fmt.Errorf("%w: %q lacks filename %q", ErrBadPath, path, s.Filename())
	}

	parts := strings.Split(rest, "/")
	names := s.segments()
	if len(parts) != len(names) {
		return Key{}, fmt.Errorf("%w: %q has %d segments, want %d", ErrBadPath, path, len(parts), len(names))
	}

	values := make(map[string]string, len(names))
	for i, part := range parts {
		name, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			return Key{}, fmt.Errorf("%w: segment %q is not name=value", ErrBadPath, part)
		}
		if name != names[i] {
			return Key{}, fmt.Errorf("%w: segment %q out of order, want %q", ErrBadPath, name, names[i])
		}
		values[name] = value
	}

	month, err := ParseMonth(values["month"])
	if err != nil {
		return Key{}, err
	}
	return Key{ICAO: values["icao_number"], Month: month}, nil
}

// RollupPath returns the path of the merged yearly blob.
func (s Schema) RollupPath(year int) string {
	return fmt.Sprintf("%sall/year=%d/%s", s.Root(), year, s.Filename())
}

// StatusPath returns the path of the status document.
func (s Schema) StatusPath() string { return s.Root() + "status.json" }
