package snapshot

import "time"

// Reading is one sensor report from a habitat.
//
// The six plain float fields are always reported. Pointer fields are
// optional and nil means "not reported".
type Reading struct {
	Timestamp             time.Time `json:"timestamp"`
	TemperatureC          float64   `json:"temperatureC"`
	HumidityPercent       float64   `json:"humidityPercent"`
	WaterIntakeMl         float64   `json:"waterIntakeMl"`
	AirQualityIndex       float64   `json:"airQualityIndex"`
	CatWeightKg           float64   `json:"catWeightKg"`
	LastFeedingMinutesAgo float64   `json:"lastFeedingMinutesAgo"`

	WaterLevelPercent   *float64 `json:"waterLevelPercent,omitempty"`
	AmbientLightPercent *float64 `json:"ambientLightPercent,omitempty"`
	CatPresent          *bool    `json:"catPresent,omitempty"`
	FoodWeightGrams     *float64 `json:"foodWeightGrams,omitempty"`

	Audio     *AudioStatus     `json:"audio,omitempty"`
	UVFan     *UVFanStatus     `json:"uvFan,omitempty"`
	Vision    *VisionStatus    `json:"vision,omitempty"`
	Feeder    *FeederStatus    `json:"feeder,omitempty"`
	Hydration *HydrationStatus `json:"hydration,omitempty"`
}

// Present reports whether the cat is known to be inside.
func (r Reading) Present() bool {
	return r.CatPresent != nil && *r.CatPresent
}

// AudioStatus is the speaker module state.
type AudioStatus struct {
	AmplifierOnline   bool    `json:"amplifierOnline"`
	Muted             bool    `json:"muted"`
	VolumePercent     float64 `json:"volumePercent"`
	ActivePattern     string  `json:"activePattern"`
	Playing           bool    `json:"playing"`
	LastPattern       *string `json:"lastPattern,omitempty"`
	LastTriggeredAtMs *int64  `json:"lastTriggeredAtMs,omitempty"`
}

// UVFanStatus is the UV steriliser and fan module state.
type UVFanStatus struct {
	UVOn                bool   `json:"uvOn"`
	FanOn               bool   `json:"fanOn"`
	AutoMode            bool   `json:"autoMode"`
	CleaningActive      bool   `json:"cleaningActive"`
	CleaningDurationMs  *int64 `json:"cleaningDurationMs,omitempty"`
	CleaningRemainingMs *int64 `json:"cleaningRemainingMs,omitempty"`
	LastRunUnix         *int64 `json:"lastRunUnix,omitempty"`
	NextAutoUnix        *int64 `json:"nextAutoUnix,omitempty"`
}

// VisionInference is the camera's latest cat-detection result.
type VisionInference struct {
	ModelID     string   `json:"modelId"`
	UpdatedAt   string   `json:"updatedAt"`
	CatDetected bool     `json:"catDetected"`
	Probability float64  `json:"probability"`
	Mean        *float64 `json:"mean,omitempty"`
	StdDev      *float64 `json:"stdDev,omitempty"`
	EdgeDensity *float64 `json:"edgeDensity,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// VisionStatus is the camera module state.
type VisionStatus struct {
	CameraOnline    bool             `json:"cameraOnline"`
	DeviceID        string           `json:"deviceId,omitempty"`
	SnapshotURL     string           `json:"snapshotUrl,omitempty"`
	StreamURL       string           `json:"streamUrl,omitempty"`
	LastHeartbeatAt string           `json:"lastHeartbeatAt,omitempty"`
	LastEventAt     string           `json:"lastEventAt,omitempty"`
	LastError       *string          `json:"lastError,omitempty"`
	Inference       *VisionInference `json:"inference,omitempty"`
}

// FeederScheduleSlot is one planned feeding.
type FeederScheduleSlot struct {
	Hour      int  `json:"hour"`
	Minute    int  `json:"minute"`
	Completed bool `json:"completed"`
}

// FeederStatus is the feeder module state.
type FeederStatus struct {
	FeedingActive       bool                 `json:"feedingActive"`
	CalibrationMode     bool                 `json:"calibrationMode"`
	TargetWeightGrams   float64              `json:"targetWeightGrams"`
	MinWeightGrams      float64              `json:"minWeightGrams"`
	GateOpen            bool                 `json:"gateOpen"`
	ManualButtonLatched *bool                `json:"manualButtonLatched,omitempty"`
	LastStartUnix       *int64               `json:"lastStartUnix,omitempty"`
	Schedule            []FeederScheduleSlot `json:"schedule,omitempty"`
}

// HydrationStatus is the water pump module state.
type HydrationStatus struct {
	SensorRaw      float64 `json:"sensorRaw"`
	PumpActive     bool    `json:"pumpActive"`
	ManualOverride bool    `json:"manualOverride"`
	Threshold      float64 `json:"threshold"`
	LastRefillUnix *int64  `json:"lastRefillUnix,omitempty"`
}

// PurifierIntensity is the air purifier level.
type PurifierIntensity string

// Purifier intensities.
const (
	PurifierLow    PurifierIntensity = "low"
	PurifierMedium PurifierIntensity = "medium"
	PurifierHigh   PurifierIntensity = "high"
)

// Settings are the user-controlled targets for one device.
type Settings struct {
	AutoMode               bool              `json:"autoMode"`
	TargetTemperatureC     float64           `json:"targetTemperatureC"`
	TargetHumidityPercent  float64           `json:"targetHumidityPercent"`
	WaterBowlLevelTargetMl float64           `json:"waterBowlLevelTargetMl"`
	FeederSchedule         string            `json:"feederSchedule"`
	PurifierIntensity      PurifierIntensity `json:"purifierIntensity"`
}

// DefaultSettings returns the settings a device starts with.
func DefaultSettings() Settings {
	return Settings{
		AutoMode:               true,
		TargetTemperatureC:     24,
		TargetHumidityPercent:  55,
		WaterBowlLevelTargetMl: 200,
		FeederSchedule:         "08:00, 13:00, 20:00",
		PurifierIntensity:      PurifierMedium,
	}
}

// Calibration holds per-device sensor calibration. Every field is optional.
type Calibration struct {
	FSRZero                *float64   `json:"fsrZero,omitempty"`
	FSRScale               *float64   `json:"fsrScale,omitempty"`
	WaterLevelFullCm       *float64   `json:"waterLevelFullCm,omitempty"`
	WaterLevelEmptyCm      *float64   `json:"waterLevelEmptyCm,omitempty"`
	LDRDark                *float64   `json:"ldrDark,omitempty"`
	LDRBright              *float64   `json:"ldrBright,omitempty"`
	CatPresenceThresholdKg *float64   `json:"catPresenceThresholdKg,omitempty"`
	UpdatedAt              *time.Time `json:"updatedAt,omitempty"`
}

// DerivedStatus is the actuator state implied by a reading and settings.
type DerivedStatus struct {
	HeaterOn     bool `json:"heaterOn"`
	HumidifierOn bool `json:"humidifierOn"`
	WaterPumpOn  bool `json:"waterPumpOn"`
	FeederActive bool `json:"feederActive"`
	PurifierOn   bool `json:"purifierOn"`
}

// Snapshot is the committed state of a device at one reading timestamp.
type Snapshot struct {
	DeviceID string        `json:"deviceId"`
	Reading  Reading       `json:"reading"`
	Settings Settings      `json:"settings"`
	Status   DerivedStatus `json:"status"`
}

// StatusPatch is a partial sub-device update merged into the latest snapshot.
// Nil fields are left unchanged.
type StatusPatch struct {
	Audio  *AudioStatus  `json:"audio,omitempty"`
	UVFan  *UVFanStatus  `json:"uvFan,omitempty"`
	Vision *VisionStatus `json:"vision,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p StatusPatch) Empty() bool {
	return p.Audio == nil && p.UVFan == nil && p.Vision == nil
}
