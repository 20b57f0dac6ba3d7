package fare

import (
	"math"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// Tariff holds the metered-fare parameters. Defaults follow the Tokyo
// standard taxi tariff.
type Tariff struct {
	BaseFare         int64   // covers the first FirstUnitKm
	FirstUnitKm      float64 // distance included in the base fare
	UnitKm           float64 // distance increment after the first unit
	PerUnitFare      int64   // fare per distance increment
	TimeUnitMinutes  float64 // low-speed time increment
	PerTimeUnitFare  int64   // fare per time increment
	FreeFlowMinPerKm float64 // minutes per km assumed without traffic
	NightStartHour   int     // surcharge window start, inclusive
	NightEndHour     int     // surcharge window end, exclusive
	NightRate        float64 // surcharge fraction of the subtotal
	RoundToYen       int64   // currency rounding unit
	MinimumFare      int64
}

func DefaultTariff() Tariff {
	return Tariff{
		BaseFare:         500,
		FirstUnitKm:      1.1,
		UnitKm:           0.255,
		PerUnitFare:      100,
		TimeUnitMinutes:  1.5,
		PerTimeUnitFare:  40,
		FreeFlowMinPerKm: 2.0, // 30 km/h average; anything slower counts as traffic
		NightStartHour:   22,
		NightEndHour:     5,
		NightRate:        0.20,
		RoundToYen:       10,
		MinimumFare:      500,
	}
}

// Calculate is a pure function from trip measurements to a fare breakdown.
// The clock is passed in so night pricing stays deterministic under test.
// A surge multiplier <= 0 is treated as 1.0.
func Calculate(t Tariff, distanceKm, durationMinutes float64, at time.Time, surge float64) models.FareBreakdown {
	if surge <= 0 {
		surge = 1.0
	}

	b := models.FareBreakdown{Base: t.BaseFare, Surge: surge}

	if distanceKm > t.FirstUnitKm {
		units := math.Ceil((distanceKm - t.FirstUnitKm) / t.UnitKm)
		b.Distance = int64(units) * t.PerUnitFare
	}

	trafficMinutes := durationMinutes - distanceKm*t.FreeFlowMinPerKm
	if trafficMinutes > 0 {
		units := math.Floor(trafficMinutes / t.TimeUnitMinutes)
		b.Time = int64(units) * t.PerTimeUnitFare
	}

	subtotal := b.Base + b.Distance + b.Time
	if isNight(at.Hour(), t.NightStartHour, t.NightEndHour) {
		b.NightSurcharge = int64(math.Floor(float64(subtotal) * t.NightRate))
	}

	total := float64(subtotal+b.NightSurcharge) * surge
	rounded := int64(math.Round(total/float64(t.RoundToYen))) * t.RoundToYen
	if rounded < t.MinimumFare {
		rounded = t.MinimumFare
	}
	b.Total = rounded
	return b
}

func isNight(hour, start, end int) bool {
	if start > end { // window wraps midnight, e.g. 22:00-05:00
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}
