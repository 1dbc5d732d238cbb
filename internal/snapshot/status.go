package snapshot

import "math"

const (
	heaterHysteresisC       = 1
	humidifierHysteresisPct = 3
	pumpRefillMarginMl      = 20
	feederOverdueMinutes    = 180
)

// DeriveStatus computes the actuator state implied by a reading under settings.
// Reported hydration and feeder state win over the derived heuristics.
func DeriveStatus(r Reading, s Settings) DerivedStatus {
	status := DerivedStatus{
		HeaterOn:     r.TemperatureC < s.TargetTemperatureC-heaterHysteresisC,
		HumidifierOn: r.HumidityPercent < s.TargetHumidityPercent-humidifierHysteresisPct,
		PurifierOn:   s.PurifierIntensity != PurifierLow,
	}

	if r.Hydration != nil {
		status.WaterPumpOn = r.Hydration.PumpActive
	} else {
		capacity := s.WaterBowlLevelTargetMl
		remaining := math.Max(0, capacity-r.WaterIntakeMl)
		status.WaterPumpOn = remaining < capacity-pumpRefillMarginMl
	}

	if r.Feeder != nil {
		status.FeederActive = r.Feeder.FeedingActive
	} else {
		status.FeederActive = r.LastFeedingMinutesAgo > feederOverdueMinutes
	}

	return status
}
