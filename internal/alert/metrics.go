package alert

import "github.com/smartcat/habitat-core/internal/snapshot"

// Metric names a numeric reading field a rule can watch.
type Metric string

// Metrics available to custom rules.
const (
	MetricTemperature  Metric = "temperatureC"
	MetricHumidity     Metric = "humidityPercent"
	MetricWaterLevel   Metric = "waterLevelPercent"
	MetricAmbientLight Metric = "ambientLightPercent"
	MetricWaterIntake  Metric = "waterIntakeMl"
	MetricAirQuality   Metric = "airQualityIndex"
	MetricCatWeight    Metric = "catWeightKg"
	MetricLastFeeding  Metric = "lastFeedingMinutesAgo"
)

var metricLabels = map[Metric]string{
	MetricTemperature:  "temperature (°C)",
	MetricHumidity:     "humidity (%)",
	MetricWaterLevel:   "water level (%)",
	MetricAmbientLight: "ambient light (%)",
	MetricWaterIntake:  "water intake (ml)",
	MetricAirQuality:   "air quality index",
	MetricCatWeight:    "cat weight (kg)",
	MetricLastFeeding:  "minutes since feeding",
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	_, ok := metricLabels[m]
	return ok
}

// Label is the human-readable metric name used in generated messages.
func (m Metric) Label() string {
	if label, ok := metricLabels[m]; ok {
		return label
	}
	return string(m)
}

// value extracts the metric from a reading. Optional fields that were not
// reported yield false.
func (m Metric) value(r snapshot.Reading) (float64, bool) {
	switch m {
	case MetricTemperature:
		return r.TemperatureC, true
	case MetricHumidity:
		return r.HumidityPercent, true
	case MetricWaterIntake:
		return r.WaterIntakeMl, true
	case MetricAirQuality:
		return r.AirQualityIndex, true
	case MetricCatWeight:
		return r.CatWeightKg, true
	case MetricLastFeeding:
		return r.LastFeedingMinutesAgo, true
	case MetricWaterLevel:
		if r.WaterLevelPercent != nil {
			return *r.WaterLevelPercent, true
		}
	case MetricAmbientLight:
		if r.AmbientLightPercent != nil {
			return *r.AmbientLightPercent, true
		}
	}
	return 0, false
}
