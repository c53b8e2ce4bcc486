// Package track holds the trajectory domain model: raw positions, derived
// legs, and the collaborator interfaces that turn one into the other.
package track

import (
	"math"
	"time"
)

// Position is one observed sample of an airframe's trajectory.
type Position struct {
	Time     time.Time
	Lat      float64
	Lon      float64
	Altitude float64 // feet
}

// Leg is one continuous movement segment between two observed positions.
type Leg struct {
	From Position
	To   Position
}

// Duration returns the leg's elapsed time.
func (l Leg) Duration() time.Duration {
	return l.To.Time.Sub(l.From.Time)
}

// DistanceKm returns the great-circle distance between the leg's endpoints.
func (l Leg) DistanceKm() float64 {
	return haversineKm(l.From.Lat, l.From.Lon, l.To.Lat, l.To.Lon)
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// Segmenter converts an ordered position stream into discrete legs. The
// conversion algorithm is a collaborator; the engine depends only on this
// interface.
type Segmenter interface {
	Legs(positions []Position) []Leg
}

// GapSegmenter is the reference segmenter: positions are grouped into
// continuous stretches, split wherever consecutive samples are further apart
// than Gap. Each stretch of two or more samples becomes one leg from its
// first to its last position.
type GapSegmenter struct {
	Gap time.Duration
}

// Legs implements Segmenter.
func (g GapSegmenter) Legs(positions []Position) []Leg {
	gap := g.Gap
	if gap <= 0 {
		gap = 30 * time.Minute
	}

	var legs []Leg
	start := 0
	for i := 1; i <= len(positions); i++ {
		if i == len(positions) || positions[i].Time.Sub(positions[i-1].Time) > gap {
			if i-start >= 2 {
				legs = append(legs, Leg{From: positions[start], To: positions[i-1]})
			}
			start = i
		}
	}
	return legs
}

// Emissions estimates CO2e for a leg. The physics model is a collaborator.
type Emissions interface {
	// CommercialKg estimates the first-class commercial-flight emissions
	// for the same route, in kg CO2e.
	CommercialKg(l Leg) float64

	// BurnKg estimates actual emissions from the airframe's fuel burn
	// rate (gallons per hour) over the leg's duration, in kg CO2e.
	BurnKg(gallonsPerHour float64, d time.Duration) float64
}

// FuelBurnModel is the reference emissions estimator.
type FuelBurnModel struct{}

// kg CO2e per gallon of jet fuel burned.
const kgCO2ePerGallon = 9.57

// kg CO2e per passenger-km in first class, short of a proper radiative model.
const kgCO2ePerKmFirst = 0.45

// CommercialKg implements Emissions.
func (FuelBurnModel) CommercialKg(l Leg) float64 {
	return l.DistanceKm() * kgCO2ePerKmFirst
}

// BurnKg implements Emissions.
func (FuelBurnModel) BurnKg(gallonsPerHour float64, d time.Duration) float64 {
	return gallonsPerHour * d.Hours() * kgCO2ePerGallon
}
