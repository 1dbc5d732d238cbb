package audit

import "time"

// Action is what happened to an entity.
type Action string

// Recorded actions.
const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionComplete Action = "complete"
)

// Entity types.
const (
	EntityDevice      = "device"
	EntitySettings    = "settings"
	EntityCalibration = "calibration"
	EntityAlertRule   = "alert_rule"
	EntityCommand     = "command"
)

// Entry is one audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	DeviceID   string         `json:"deviceId,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Filter selects entries. Empty fields match everything.
type Filter struct {
	Action     Action
	EntityType string
	DeviceID   string
	Limit      int // default 50, max 200
	Offset     int
}

// Page is one page of entries, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}
