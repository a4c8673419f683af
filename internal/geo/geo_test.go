package geo

import (
	"math"
	"testing"

	"github.com/example/taxipool/internal/models"
)

var (
	gangnam = models.GeoPoint{Lat: 37.498095, Lng: 127.02761}
	incheon = models.GeoPoint{Lat: 37.4602, Lng: 126.4407}
)

func TestHaversineKnownRoute(t *testing.T) {
	d := Haversine(gangnam, incheon)
	// Gangnam to Incheon airport is roughly 52 km as the crow flies.
	if d < 50000 || d > 54000 {
		t.Fatalf("distance = %.0f m, expected about 52 km", d)
	}
	if Haversine(gangnam, gangnam) != 0 {
		t.Fatal("zero distance expected for identical points")
	}
}

func TestEstimateFare(t *testing.T) {
	short := EstimateFare(gangnam, models.GeoPoint{Lat: 37.5, Lng: 127.03})
	if short != 4800 {
		t.Fatalf("short hop fare = %.0f, want base fare", short)
	}
	long := EstimateFare(gangnam, incheon)
	if long <= 4800 {
		t.Fatalf("long route fare = %.0f, want above base", long)
	}
	if math.Mod(long, 100) != 0 {
		t.Fatalf("fare %.0f not rounded to 100", long)
	}
}

func TestEstimateMinutes(t *testing.T) {
	minutes := EstimateMinutes(gangnam, incheon)
	if minutes <= 0 {
		t.Fatalf("minutes = %.0f", minutes)
	}
	if minutes != math.Ceil(minutes) {
		t.Fatal("minutes should be whole")
	}
}
