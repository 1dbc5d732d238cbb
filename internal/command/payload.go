package command

import (
	"encoding/json"
	"fmt"
	"math"
)

// hydrateNow pump duration bounds, in milliseconds.
const (
	minHydrateDurationMs = 200
	maxHydrateDurationMs = 5000
)

// payloadValidator checks a decoded payload object and returns the payload
// to store.
type payloadValidator func(obj map[string]any) (map[string]any, error)

var validators = map[Type]payloadValidator{
	TypeUpdateSettings:    passThrough,
	TypeUpdateCalibration: passThrough,
	TypeStopFeederCycle:   passThrough,
	TypeStartFeederCycle:  validateFeederStart,
	TypeHydrateNow:        validateHydrate,
	TypeSetAudio:          validateAudio,
	TypeSetUVFan:          validateUVFan,
}

// KnownType reports whether t is a command type the queue accepts.
func KnownType(t Type) bool {
	_, ok := validators[t]
	return ok
}

// normalizePayload validates raw for cmdType and returns the canonical JSON
// to store. A missing payload becomes {}.
func normalizePayload(cmdType Type, raw json.RawMessage) (json.RawMessage, error) {
	validate, ok := validators[cmdType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmdType)
	}

	obj := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return nil, fmt.Errorf("%w: %s payload must be a JSON object", ErrInvalidCommand, cmdType)
		}
	}

	out, err := validate(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCommand, cmdType, err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

func passThrough(obj map[string]any) (map[string]any, error) {
	return obj, nil
}

// number extracts an optional numeric field. A present non-number is an error.
func number(obj map[string]any, key string) (float64, bool, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%s must be a number", key)
	}
	return f, true, nil
}

func boolean(obj map[string]any, key string) error {
	if v, ok := obj[key]; ok && v != nil {
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", key)
		}
	}
	return nil
}

func validateFeederStart(obj map[string]any) (map[string]any, error) {
	grams, ok, err := number(obj, "targetGrams")
	if err != nil {
		return nil, err
	}
	if ok && grams <= 0 {
		return nil, fmt.Errorf("targetGrams must be positive")
	}
	return obj, nil
}

// validateHydrate clamps a positive durationMs into range and drops anything else.
func validateHydrate(obj map[string]any) (map[string]any, error) {
	d, ok, err := number(obj, "durationMs")
	if err != nil || !ok || d <= 0 {
		return map[string]any{}, nil //nolint:nilerr // bad durations fall back to the firmware default
	}
	d = math.Round(math.Max(minHydrateDurationMs, math.Min(maxHydrateDurationMs, d)))
	return map[string]any{"durationMs": d}, nil
}

func validateAudio(obj map[string]any) (map[string]any, error) {
	if err := boolean(obj, "muted"); err != nil {
		return nil, err
	}
	vol, ok, err := number(obj, "volumePercent")
	if err != nil {
		return nil, err
	}
	if ok {
		obj["volumePercent"] = math.Max(0, math.Min(100, vol))
	}
	if v, ok := obj["pattern"]; ok && v != nil {
		if _, ok := v.(string); !ok {
			return nil, fmt.Errorf("pattern must be a string")
		}
	}
	return obj, nil
}

func validateUVFan(obj map[string]any) (map[string]any, error) {
	for _, key := range []string{"uvOn", "fanOn", "autoMode"} {
		if err := boolean(obj, key); err != nil {
			return nil, err
		}
	}
	d, ok, err := number(obj, "cleaningDurationMs")
	if err != nil {
		return nil, err
	}
	if ok && d <= 0 {
		return nil, fmt.Errorf("cleaningDurationMs must be positive")
	}
	return obj, nil
}
