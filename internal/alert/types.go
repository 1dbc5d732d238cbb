package alert

import (
	"encoding/json"
	"time"
)

// Severity ranks how urgent an alert is.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Key names a built-in alert whose message is rendered from a template.
type Key string

// Built-in alert keys.
const (
	KeyWaterLevelCritical Key = "waterLevelCritical"
	KeyWaterLevelLow      Key = "waterLevelLow"
	KeyBrightnessLow      Key = "brightnessLow"
	KeyBrightnessHigh     Key = "brightnessHigh"
	KeyCatLeft            Key = "catLeft"
	KeyCatAwayTooLong     Key = "catAwayTooLong"
)

// Alert is one recorded notification-worthy event.
type Alert struct {
	ID               string         `json:"id"`
	DeviceID         string         `json:"deviceId"`
	Timestamp        time.Time      `json:"timestamp"`
	Message          string         `json:"message"`
	Severity         Severity       `json:"severity"`
	MessageKey       Key            `json:"messageKey,omitempty"`
	MessageVariables map[string]any `json:"messageVariables,omitempty"`
	RuleID           *int64         `json:"ruleId,omitempty"`
}

// variablesJSON is the canonical encoding of the message variables.
// encoding/json sorts map keys, so equal maps encode identically.
func (a Alert) variablesJSON() string {
	if len(a.MessageVariables) == 0 {
		return "{}"
	}
	data, err := json.Marshal(a.MessageVariables)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// signature identifies an alert for cooldown purposes.
func (a Alert) signature() string {
	if a.MessageKey != "" {
		return string(a.MessageKey) + "-" + a.variablesJSON()
	}
	return "msg-" + a.Message
}

// duplicates reports whether a repeats prev closely enough to be suppressed.
func (a Alert) duplicates(prev Alert) bool {
	if a.Severity != prev.Severity {
		return false
	}
	if a.MessageKey != "" {
		return a.MessageKey == prev.MessageKey && a.variablesJSON() == prev.variablesJSON()
	}
	return prev.MessageKey == "" && a.Message == prev.Message
}

// Comparison is the direction a custom rule fires in.
type Comparison string

// Rule comparisons.
const (
	ComparisonAbove Comparison = "above"
	ComparisonBelow Comparison = "below"
)

// Rule is a user-defined threshold policy.
type Rule struct {
	ID         int64      `json:"id"`
	Metric     Metric     `json:"metric"`
	Comparison Comparison `json:"comparison"`
	Threshold  float64    `json:"threshold"`
	Severity   Severity   `json:"severity"`
	Message    *string    `json:"message,omitempty"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
