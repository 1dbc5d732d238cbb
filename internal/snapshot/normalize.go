package snapshot

import "math"

const (
	visionPresenceProbability = 0.5
	percentMax                = 100
)

// carried is the sub-device state remembered between readings.
type carried struct {
	audio  *AudioStatus
	uvFan  *UVFanStatus
	vision *VisionStatus
}

func carriedFrom(r *Reading) carried {
	if r == nil {
		return carried{}
	}
	return carried{audio: r.Audio, uvFan: r.UVFan, vision: r.Vision}
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(percentMax, v))
}

// normalize applies the ingest rules to a validated reading and returns the
// normalised copy. defaultThreshold is used when the calibration has no
// presence threshold.
func normalize(r Reading, prev carried, settings Settings, cal Calibration, defaultThreshold float64) Reading {
	out := r

	// Sub-device statuses are carried forward when omitted.
	if out.Audio == nil && prev.audio != nil {
		a := *prev.audio
		out.Audio = &a
	}
	if out.Audio != nil {
		a := *out.Audio
		a.VolumePercent = clampPercent(a.VolumePercent)
		out.Audio = &a
	}
	if out.UVFan == nil && prev.uvFan != nil {
		u := *prev.uvFan
		out.UVFan = &u
	}
	if out.Vision == nil && prev.vision != nil {
		v := *prev.vision
		out.Vision = &v
	}

	// The camera overrides an explicit "absent" when it sees the cat.
	if out.Vision != nil && out.Vision.Inference != nil {
		inf := out.Vision.Inference
		if inf.CatDetected && inf.Probability >= visionPresenceProbability &&
			out.CatPresent != nil && !*out.CatPresent {
			out.CatPresent = boolPtr(true)
		}
	}

	normalizeWater(&out, settings)

	if out.AmbientLightPercent != nil {
		out.AmbientLightPercent = floatPtr(clampPercent(*out.AmbientLightPercent))
	}

	if out.CatPresent == nil {
		threshold := defaultThreshold
		if cal.CatPresenceThresholdKg != nil {
			threshold = *cal.CatPresenceThresholdKg
		}
		out.CatPresent = boolPtr(out.CatWeightKg >= threshold)
	}

	return out
}

// normalizeWater reconciles waterLevelPercent and waterIntakeMl against the
// bowl capacity from settings.
func normalizeWater(r *Reading, settings Settings) {
	capacity := math.Max(0, settings.WaterBowlLevelTargetMl)
	intakeValid := finite(r.WaterIntakeMl) && r.WaterIntakeMl >= 0

	if r.WaterLevelPercent != nil && finite(*r.WaterLevelPercent) {
		level := clampPercent(*r.WaterLevelPercent)
		r.WaterLevelPercent = &level
		if !intakeValid || r.WaterIntakeMl > capacity {
			if capacity > 0 {
				r.WaterIntakeMl = math.Max(0, capacity-capacity*level/percentMax)
			} else {
				r.WaterIntakeMl = 0
			}
		}
		return
	}

	if intakeValid && capacity > 0 && r.WaterIntakeMl <= capacity {
		level := clampPercent((capacity - r.WaterIntakeMl) / capacity * percentMax)
		r.WaterLevelPercent = &level
	}
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }
