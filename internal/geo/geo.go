// Package geo provides the distance math behind fare and arrival estimates.
package geo

import (
	"math"

	"github.com/example/taxipool/internal/models"
)

// Haversine distance in meters
func Haversine(a, b models.GeoPoint) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// Seoul metered taxi tariff, simplified: base fare covers the first 1.6 km,
// then a per-distance charge.
const (
	baseFareKRW     = 4800.0
	baseDistanceM   = 1600.0
	perMeterKRW     = 100.0 / 131.0
	defaultSpeedMps = 8.0
)

// EstimateFare returns an estimated total fare in won for the route,
// rounded to the nearest 100.
func EstimateFare(from, to models.GeoPoint) float64 {
	d := Haversine(from, to)
	fare := baseFareKRW
	if d > baseDistanceM {
		fare += (d - baseDistanceM) * perMeterKRW
	}
	return math.Round(fare/100) * 100
}

// EstimateMinutes returns a coarse travel time at city speed.
func EstimateMinutes(from, to models.GeoPoint) float64 {
	return math.Ceil(Haversine(from, to) / defaultSpeedMps / 60)
}
