package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

// Measurement names.
const (
	readingMeasurement = "habitat_reading"
	alertMeasurement   = "habitat_alert"
)

// WriteSnapshot queues one point for a committed snapshot. Its signature
// matches snapshot.ObserverFunc. The write itself is asynchronous, so the
// returned error only reports a closed client.
func (c *Client) WriteSnapshot(_ context.Context, snap snapshot.Snapshot) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writer.WritePoint(snapshotPoint(snap))
	return nil
}

// Dispatch implements alert.Sink by recording the alert as a point.
func (c *Client) Dispatch(a alert.Alert) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(alertPoint(a))
}

func snapshotPoint(snap snapshot.Snapshot) *write.Point {
	r := snap.Reading
	fields := map[string]any{
		"temperature_c":            r.TemperatureC,
		"humidity_percent":         r.HumidityPercent,
		"water_intake_ml":          r.WaterIntakeMl,
		"air_quality_index":        r.AirQualityIndex,
		"cat_weight_kg":            r.CatWeightKg,
		"last_feeding_minutes_ago": r.LastFeedingMinutesAgo,
		"heater_on":                snap.Status.HeaterOn,
		"humidifier_on":            snap.Status.HumidifierOn,
		"water_pump_on":            snap.Status.WaterPumpOn,
		"feeder_active":            snap.Status.FeederActive,
		"purifier_on":              snap.Status.PurifierOn,
	}
	if r.WaterLevelPercent != nil {
		fields["water_level_percent"] = *r.WaterLevelPercent
	}
	if r.AmbientLightPercent != nil {
		fields["ambient_light_percent"] = *r.AmbientLightPercent
	}
	if r.CatPresent != nil {
		fields["cat_present"] = *r.CatPresent
	}
	if r.FoodWeightGrams != nil {
		fields["food_weight_grams"] = *r.FoodWeightGrams
	}

	return write.NewPoint(readingMeasurement, map[string]string{"device_id": snap.DeviceID}, fields, r.Timestamp)
}

func alertPoint(a alert.Alert) *write.Point {
	tags := map[string]string{
		"device_id": a.DeviceID,
		"severity":  string(a.Severity),
	}
	if a.MessageKey != "" {
		tags["message_key"] = string(a.MessageKey)
	}
	if a.RuleID != nil {
		tags["custom"] = "true"
	}
	return write.NewPoint(alertMeasurement, tags, map[string]any{"count": 1}, a.Timestamp)
}
