package snapshot

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Settings bounds accepted from clients.
const (
	minTargetTemperatureC  = 15
	maxTargetTemperatureC  = 35
	minTargetHumidity      = 30
	maxTargetHumidity      = 80
	minWaterBowlTargetMl   = 100
	maxWaterBowlTargetMl   = 1000
	maxFeederScheduleChars = 200
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks that the required fields are finite and that an explicit
// water level is a percentage.
func (r Reading) Validate() error {
	var errs []error
	required := []struct {
		name  string
		value float64
	}{
		{"temperatureC", r.TemperatureC},
		{"humidityPercent", r.HumidityPercent},
		{"waterIntakeMl", r.WaterIntakeMl},
		{"airQualityIndex", r.AirQualityIndex},
		{"catWeightKg", r.CatWeightKg},
		{"lastFeedingMinutesAgo", r.LastFeedingMinutesAgo},
	}
	for _, f := range required {
		if !finite(f.value) {
			errs = append(errs, fmt.Errorf("%s must be a finite number", f.name))
		}
	}
	if r.WaterLevelPercent != nil {
		v := *r.WaterLevelPercent
		if !finite(v) || v < 0 || v > 100 {
			errs = append(errs, errors.New("waterLevelPercent must be between 0 and 100"))
		}
	}
	for name, v := range map[string]*float64{
		"ambientLightPercent": r.AmbientLightPercent,
		"foodWeightGrams":     r.FoodWeightGrams,
	} {
		if v != nil && !finite(*v) {
			errs = append(errs, fmt.Errorf("%s must be a finite number", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidReading, errors.Join(errs...))
	}
	return nil
}

// Validate checks every settings field against the accepted ranges.
func (s Settings) Validate() error {
	var errs []error
	if !finite(s.TargetTemperatureC) || s.TargetTemperatureC < minTargetTemperatureC || s.TargetTemperatureC > maxTargetTemperatureC {
		errs = append(errs, fmt.Errorf("targetTemperatureC must be between %d and %d", minTargetTemperatureC, maxTargetTemperatureC))
	}
	if !finite(s.TargetHumidityPercent) || s.TargetHumidityPercent < minTargetHumidity || s.TargetHumidityPercent > maxTargetHumidity {
		errs = append(errs, fmt.Errorf("targetHumidityPercent must be between %d and %d", minTargetHumidity, maxTargetHumidity))
	}
	if !finite(s.WaterBowlLevelTargetMl) || s.WaterBowlLevelTargetMl < minWaterBowlTargetMl || s.WaterBowlLevelTargetMl > maxWaterBowlTargetMl {
		errs = append(errs, fmt.Errorf("waterBowlLevelTargetMl must be between %d and %d", minWaterBowlTargetMl, maxWaterBowlTargetMl))
	}
	if utf8.RuneCountInString(s.FeederSchedule) > maxFeederScheduleChars {
		errs = append(errs, fmt.Errorf("feederSchedule exceeds %d characters", maxFeederScheduleChars))
	}
	switch s.PurifierIntensity {
	case PurifierLow, PurifierMedium, PurifierHigh:
	default:
		errs = append(errs, fmt.Errorf("purifierIntensity %q must be low, medium or high", s.PurifierIntensity))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// Validate checks that every set field is finite and the presence threshold is positive.
func (c Calibration) Validate() error {
	var errs []error
	for name, v := range map[string]*float64{
		"fsrZero":           c.FSRZero,
		"fsrScale":          c.FSRScale,
		"waterLevelFullCm":  c.WaterLevelFullCm,
		"waterLevelEmptyCm": c.WaterLevelEmptyCm,
		"ldrDark":           c.LDRDark,
		"ldrBright":         c.LDRBright,
	} {
		if v != nil && !finite(*v) {
			errs = append(errs, fmt.Errorf("%s must be a finite number", name))
		}
	}
	if v := c.CatPresenceThresholdKg; v != nil && (!finite(*v) || *v <= 0) {
		errs = append(errs, errors.New("catPresenceThresholdKg must be a positive number"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCalibration, errors.Join(errs...))
	}
	return nil
}
