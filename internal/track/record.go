package track

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flightlake/legbuilder/internal/partition"
)

// ErrBadRecord is returned when stored blob content does not match the
// schema generation's record shape.
var ErrBadRecord = errors.New("malformed leg record content")

// RecordV1 is the flat-row generation record (schema v1): one enriched CSV
// row per leg.
type RecordV1 struct {
	TailNumber            string
	Model                 string
	Start                 time.Time
	End                   time.Time
	FromLat               float64
	FromLon               float64
	ToLat                 float64
	ToLon                 float64
	DistanceKm            float64
	DurationHours         float64
	CommercialEmissionsKg int
	EmissionsKg           int
}

var v1Header = []string{
	"tail_number", "model", "start", "end",
	"from_lat", "from_lon", "to_lat", "to_lon",
	"distance", "duration", "commercial_emissions_kg", "emissions_kg",
}

// EncodeV1 serializes records as delimited rows with a header.
func EncodeV1(records []RecordV1) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(v1Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.TailNumber,
			r.Model,
			r.Start.UTC().Format(time.RFC3339),
			r.End.UTC().Format(time.RFC3339),
			formatFloat(r.FromLat),
			formatFloat(r.FromLon),
			formatFloat(r.ToLat),
			formatFloat(r.ToLon),
			formatFloat(r.DistanceKm),
			formatFloat(r.DurationHours),
			strconv.Itoa(r.CommercialEmissionsKg),
			strconv.Itoa(r.EmissionsKg),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeV1 parses delimited rows produced by EncodeV1.
func DecodeV1(data []byte) ([]RecordV1, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(v1Header)

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if len(rows) == 0 || !equalRow(rows[0], v1Header) {
		return nil, fmt.Errorf("%w: missing v1 header", ErrBadRecord)
	}

	records := make([]RecordV1, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec, err := parseV1Row(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseV1Row(row []string) (RecordV1, error) {
	var (
		rec  RecordV1
		errs []error
	)
	parseTime := func(s string) time.Time {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			errs = append(errs, err)
		}
		return t
	}
	parseFloat := func(s string) float64 {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, err)
		}
		return f
	}
	parseInt := func(s string) int {
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	rec.TailNumber = row[0]
	rec.Model = row[1]
	rec.Start = parseTime(row[2])
	rec.End = parseTime(row[3])
	rec.FromLat = parseFloat(row[4])
	rec.FromLon = parseFloat(row[5])
	rec.ToLat = parseFloat(row[6])
	rec.ToLon = parseFloat(row[7])
	rec.DistanceKm = parseFloat(row[8])
	rec.DurationHours = parseFloat(row[9])
	rec.CommercialEmissionsKg = parseInt(row[10])
	rec.EmissionsKg = parseInt(row[11])

	if len(errs) > 0 {
		return RecordV1{}, fmt.Errorf("%w: %v", ErrBadRecord, errors.Join(errs...))
	}
	return rec, nil
}

// RecordV2 is the normalized generation record (schema v2): one structured
// record per leg.
type RecordV2 struct {
	ICAONumber    string    `json:"icao_number"`
	Start         time.Time `json:"start"`
	StartLat      float64   `json:"start_lat"`
	StartLon      float64   `json:"start_lon"`
	StartAltitude float64   `json:"start_altitude"`
	End           time.Time `json:"end"`
	EndLat        float64   `json:"end_lat"`
	EndLon        float64   `json:"end_lon"`
	EndAltitude   float64   `json:"end_altitude"`
	LengthKm      float64   `json:"length"`
}

// EncodeV2 serializes records as a JSON array.
func EncodeV2(records []RecordV2) ([]byte, error) {
	if records == nil {
		records = []RecordV2{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeV2 parses the JSON array produced by EncodeV2.
func DecodeV2(data []byte) ([]RecordV2, error) {
	var records []RecordV2
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return records, nil
}

// Merge concatenates partition blobs of one schema generation into a single
// rollup blob. Order within each blob is preserved; order across blobs
// follows the input order. Returns the merged blob and its record count.
func Merge(schema partition.Schema, blobs [][]byte) ([]byte, int, error) {
	switch schema {
	case partition.V1:
		var all []RecordV1
		for _, b := range blobs {
			records, err := DecodeV1(b)
			if err != nil {
				return nil, 0, err
			}
			all = append(all, records...)
		}
		out, err := EncodeV1(all)
		return out, len(all), err
	case partition.V2:
		var all []RecordV2
		for _, b := range blobs {
			records, err := DecodeV2(b)
			if err != nil {
				return nil, 0, err
			}
			all = append(all, records...)
		}
		out, err := EncodeV2(all)
		return out, len(all), err
	default:
		return nil, 0, fmt.Errorf("unknown schema %v", schema)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func equalRow(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
