package alert

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartcat/habitat-core/internal/device"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

// Logger defines the logging interface used by the alert engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives every recorded alert. Dispatch must not block.
type Sink interface {
	Dispatch(a Alert)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(a Alert)

// Dispatch implements Sink.
func (f SinkFunc) Dispatch(a Alert) { f(a) }

// Thresholds are the limits used by the built-in policies.
type Thresholds struct {
	WaterCriticalPercent  float64
	WaterLowPercent       float64
	BrightnessLowPercent  float64
	BrightnessHighPercent float64
	AwayFeedingMinutes    float64
}

// DefaultThresholds returns the stock built-in policy limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WaterCriticalPercent:  10,
		WaterLowPercent:       25,
		BrightnessLowPercent:  15,
		BrightnessHighPercent: 90,
		AwayFeedingMinutes:    360,
	}
}

// Config controls the engine.
type Config struct {
	Thresholds    Thresholds
	Cooldown      time.Duration
	SweepInterval time.Duration
	// HistoryLimit is the number of alerts retained per device.
	HistoryLimit int
	Language     Lang
}

// Engine evaluates readings and records the alerts they raise.
type Engine struct {
	cfg    Config
	alerts Repository
	rules  RuleRepository
	logger Logger
	now    func() time.Time

	sinksMu sync.RWMutex
	sinks   []Sink

	// mu serialises the cooldown check, duplicate check and their updates.
	mu        sync.Mutex
	previous  map[string]Alert
	cooldowns map[string]time.Time

	rulesMu   sync.RWMutex
	ruleCache []Rule
}

// NewEngine creates an alert engine.
//
// Parameters:
//   - cfg: thresholds, cooldown window, history limit and message language
//   - alerts: repository for recorded alerts
//   - rules: repository for user-defined rules
//
// Call Load before the first evaluation and Start to run the cooldown sweep.
func NewEngine(cfg Config, alerts Repository, rules RuleRepository) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.Language == "" {
		cfg.Language = LangEN
	}
	return &Engine{
		cfg:       cfg,
		alerts:    alerts,
		rules:     rules,
		logger:    noopLogger{},
		now:       time.Now,
		previous:  make(map[string]Alert),
		cooldowns: make(map[string]time.Time),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// AddSink registers a receiver for recorded alerts.
func (e *Engine) AddSink(s Sink) {
	e.sinksMu.Lock()
	e.sinks = append(e.sinks, s)
	e.sinksMu.Unlock()
}

// Language is the language alert messages are rendered in.
func (e *Engine) Language() Lang {
	return e.cfg.Language
}

// Load fills the rule cache and primes each device's preceding alert from
// the store.
func (e *Engine) Load(ctx context.Context, deviceIDs []string) error {
	if err := e.refreshRules(ctx); err != nil {
		return err
	}
	for _, id := range deviceIDs {
		latest, err := e.alerts.List(ctx, id, 1)
		if err != nil {
			return fmt.Errorf("loading latest alert for %s: %w", id, err)
		}
		if len(latest) > 0 {
			e.mu.Lock()
			e.previous[id] = latest[0]
			e.mu.Unlock()
		}
	}
	return nil
}

// Evaluate runs the built-in and custom policies over a normalised reading
// and returns the alerts that survived cooldown and de-duplication.
// previous is the device's prior reading, or nil.
func (e *Engine) Evaluate(ctx context.Context, deviceID string, previous *snapshot.Reading, reading snapshot.Reading) []Alert {
	deviceID = device.NormalizeID(deviceID)
	candidates := append(e.builtin(deviceID, previous, reading), e.custom(deviceID, reading)...)

	var recorded []Alert
	e.mu.Lock()
	for _, c := range candidates {
		if a, ok := e.record(ctx, c); ok {
			recorded = append(recorded, a)
		}
	}
	e.mu.Unlock()

	e.sinksMu.RLock()
	sinks := append([]Sink(nil), e.sinks...)
	e.sinksMu.RUnlock()
	for _, a := range recorded {
		for _, s := range sinks {
			s.Dispatch(a)
		}
	}
	return recorded
}

// record applies cooldown and de-duplication to a candidate and persists it.
// A repeat of the preceding alert is only suppressed inside the cooldown
// window measured from that alert, which also covers a preceding alert
// primed from the store after a restart. Callers hold e.mu.
func (e *Engine) record(ctx context.Context, a Alert) (Alert, bool) {
	now := e.now()
	if a.Severity == "" {
		a.Severity = SeverityWarning
	}

	sig := a.DeviceID + "|" + a.signature()
	if expiry, ok := e.cooldowns[sig]; ok && now.Before(expiry) {
		e.logger.Debug("alert suppressed by cooldown", "device_id", a.DeviceID, "signature", sig)
		return Alert{}, false
	}
	if prev, ok := e.previous[a.DeviceID]; ok && a.duplicates(prev) && now.Sub(prev.Timestamp) < e.cfg.Cooldown {
		e.logger.Debug("alert suppressed as duplicate", "device_id", a.DeviceID, "signature", sig)
		return Alert{}, false
	}

	a.ID = uuid.NewString()
	a.Timestamp = now.UTC()
	if err := e.alerts.Append(ctx, a, e.cfg.HistoryLimit); err != nil {
		e.logger.Warn("persisting alert failed", "device_id", a.DeviceID, "error", err)
	}
	e.previous[a.DeviceID] = a
	e.cooldowns[sig] = now.Add(e.cfg.Cooldown)

	e.logger.Info("alert raised",
		"device_id", a.DeviceID,
		"severity", a.Severity,
		"key", a.MessageKey,
		"message", a.Message,
	)
	return a, true
}

func (e *Engine) keyed(deviceID string, key Key, sev Severity, vars map[string]any) Alert {
	return Alert{
		DeviceID:         deviceID,
		Message:          Render(e.cfg.Language, key, vars),
		Severity:         sev,
		MessageKey:       key,
		MessageVariables: vars,
	}
}

func (e *Engine) builtin(deviceID string, previous *snapshot.Reading, r snapshot.Reading) []Alert {
	t := e.cfg.Thresholds
	var out []Alert

	if r.WaterLevelPercent != nil {
		level := *r.WaterLevelPercent
		vars := map[string]any{"percent": int(math.Round(level))}
		switch {
		case level < t.WaterCriticalPercent:
			out = append(out, e.keyed(deviceID, KeyWaterLevelCritical, SeverityCritical, vars))
		case level < t.WaterLowPercent:
			out = append(out, e.keyed(deviceID, KeyWaterLevelLow, SeverityWarning, vars))
		}
	}

	if r.AmbientLightPercent != nil && r.Present() {
		light := *r.AmbientLightPercent
		switch {
		case light < t.BrightnessLowPercent:
			out = append(out, e.keyed(deviceID, KeyBrightnessLow, SeverityWarning, nil))
		case light > t.BrightnessHighPercent:
			out = append(out, e.keyed(deviceID, KeyBrightnessHigh, SeverityWarning,
				map[string]any{"percent": int(math.Round(light))}))
		}
	}

	inside := r.Present()
	if previous != nil && previous.Present() && !inside {
		out = append(out, e.keyed(deviceID, KeyCatLeft, SeverityInfo, nil))
	}
	if !inside && r.LastFeedingMinutesAgo > t.AwayFeedingMinutes {
		out = append(out, e.keyed(deviceID, KeyCatAwayTooLong, SeverityWarning, nil))
	}
	return out
}

func (e *Engine) custom(deviceID string, r snapshot.Reading) []Alert {
	e.rulesMu.RLock()
	rules := e.ruleCache
	e.rulesMu.RUnlock()

	var out []Alert
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		v, ok := rule.Metric.value(r)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		var fired bool
		switch rule.Comparison {
		case ComparisonAbove:
			fired = v > rule.Threshold
		case ComparisonBelow:
			fired = v < rule.Threshold
		}
		if !fired {
			continue
		}

		id := rule.ID
		out = append(out, Alert{
			DeviceID: deviceID,
			Message:  fmt.Sprintf("%s [rule-%d]", ruleMessage(rule, v), rule.ID),
			Severity: rule.Severity,
			RuleID:   &id,
		})
	}
	return out
}

func ruleMessage(rule Rule, value float64) string {
	if rule.Message != nil && *rule.Message != "" {
		return *rule.Message
	}
	verb := "exceeded"
	if rule.Comparison == ComparisonBelow {
		verb = "fell below"
	}
	return fmt.Sprintf("Custom alert: %s (%.1f) %s %s.",
		rule.Metric.Label(), value, verb, strconv.FormatFloat(rule.Threshold, 'f', -1, 64))
}

// ListAlerts returns up to limit alerts for a device, newest first. Limits
// outside (0, history limit] are clamped to the history limit.
func (e *Engine) ListAlerts(ctx context.Context, deviceID string, limit int) ([]Alert, error) {
	if limit <= 0 || limit > e.cfg.HistoryLimit {
		limit = e.cfg.HistoryLimit
	}
	return e.alerts.List(ctx, device.NormalizeID(deviceID), limit)
}

// Recent returns the device's preceding alert, if any.
func (e *Engine) Recent(deviceID string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.previous[device.NormalizeID(deviceID)]
	return a, ok
}

// Sweep drops expired cooldown entries and returns how many were removed.
func (e *Engine) Sweep() int {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for sig, expiry := range e.cooldowns {
		if !now.Before(expiry) {
			delete(e.cooldowns, sig)
			removed++
		}
	}
	return removed
}

// Start runs Sweep every SweepInterval until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Sweep(); n > 0 {
				e.logger.Debug("expired alert cooldowns swept", "count", n)
			}
		}
	}
}
