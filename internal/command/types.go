package command

import (
	"encoding/json"
	"time"
)

// Type identifies what the hardware should do.
type Type string

// Command types understood by the habitat firmware.
const (
	TypeUpdateSettings    Type = "updateSettings"
	TypeUpdateCalibration Type = "updateCalibration"
	TypeStartFeederCycle  Type = "startFeederCycle"
	TypeStopFeederCycle   Type = "stopFeederCycle"
	TypeHydrateNow        Type = "hydrateNow"
	TypeSetAudio          Type = "setAudio"
	TypeSetUVFan          Type = "setUvFan"
)

// Status is the lifecycle state of a command.
type Status string

// Command statuses.
const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Command is one queued hardware action.
type Command struct {
	ID            int64           `json:"id"`
	DeviceID      string          `json:"deviceId"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	ClaimedAt     *time.Time      `json:"claimedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	ResultMessage *string         `json:"resultMessage,omitempty"`
}
