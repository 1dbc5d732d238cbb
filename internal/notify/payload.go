package notify

import (
	"encoding/json"
	"time"

	"github.com/smartcat/habitat-core/internal/alert"
)

// DefaultTitle is the payload title when none is configured or requested.
const DefaultTitle = "Smart Cat Home Alert"

// Context carries per-delivery overrides.
type Context struct {
	Title  string
	URL    string
	Action string
	Test   bool
}

// PayloadData is the structured data bag delivered with a notification.
type PayloadData struct {
	MessageKey       *alert.Key     `json:"messageKey"`
	MessageVariables map[string]any `json:"messageVariables"`
	Severity         alert.Severity `json:"severity"`
	Action           *string        `json:"action"`
	URL              string         `json:"url"`
	Test             bool           `json:"test"`
	DeviceID         string         `json:"deviceId"`
	Timestamp        string         `json:"timestamp"`
}

// Payload is the JSON body sent to web-push subscribers.
type Payload struct {
	AlertID  string         `json:"alertId"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Severity alert.Severity `json:"severity"`
	Action   *string        `json:"action"`
	URL      string         `json:"url"`
	Data     PayloadData    `json:"data"`
}

// BuildPayload assembles the notification for a. The action and URL come
// from the alert key's hint in lang unless pc overrides them.
func BuildPayload(a alert.Alert, lang alert.Lang, pc Context) Payload {
	hint, ok := alert.HintFor(lang, a.MessageKey)
	var action *string
	if ok {
		action = &hint.Action
	}
	if pc.Action != "" {
		action = &pc.Action
	}
	url := hint.URL
	if pc.URL != "" {
		url = pc.URL
	}
	title := pc.Title
	if title == "" {
		title = DefaultTitle
	}

	alertID := a.ID
	if alertID == "" {
		alertID = a.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	var key *alert.Key
	if a.MessageKey != "" {
		k := a.MessageKey
		key = &k
	}

	return Payload{
		AlertID:  alertID,
		Title:    title,
		Body:     a.Message,
		Severity: a.Severity,
		Action:   action,
		URL:      url,
		Data: PayloadData{
			MessageKey:       key,
			MessageVariables: a.MessageVariables,
			Severity:         a.Severity,
			Action:           action,
			URL:              url,
			Test:             pc.Test,
			DeviceID:         a.DeviceID,
			Timestamp:        a.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
}

// Flatten renders the data bag as strings for native transports. Strings
// pass through and everything else is JSON-encoded.
func (p Payload) Flatten() map[string]string {
	out := map[string]string{
		"alertId":   p.AlertID,
		"severity":  string(p.Data.Severity),
		"url":       p.Data.URL,
		"test":      jsonString(p.Data.Test),
		"deviceId":  p.Data.DeviceID,
		"timestamp": p.Data.Timestamp,
	}
	if p.Data.MessageKey != nil {
		out["messageKey"] = string(*p.Data.MessageKey)
	} else {
		out["messageKey"] = "null"
	}
	if p.Data.Action != nil {
		out["action"] = *p.Data.Action
	} else {
		out["action"] = "null"
	}
	out["messageVariables"] = jsonString(p.Data.MessageVariables)
	return out
}

func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

var severityTitles = map[alert.Severity]map[alert.Lang]string{
	alert.SeverityInfo:     {alert.LangEN: "📢 System Notification", alert.LangZH: "📢 系統通知"},
	alert.SeverityWarning:  {alert.LangEN: "⚠️ Warning", alert.LangZH: "⚠️ 警告"},
	alert.SeverityCritical: {alert.LangEN: "🚨 Critical Alert", alert.LangZH: "🚨 緊急警報"},
}

// SeverityTitle is the native notification title for sev in lang. Unknown
// severities use the info title.
func SeverityTitle(sev alert.Severity, lang alert.Lang) string {
	titles, ok := severityTitles[sev]
	if !ok {
		titles = severityTitles[alert.SeverityInfo]
	}
	if t, ok := titles[lang]; ok {
		return t
	}
	return titles[alert.LangEN]
}
