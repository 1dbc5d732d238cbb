package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/device"
)

const minHistoryLimit = 1

// Logger defines the logging interface used by the snapshot package.
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

// DeviceResolver maps a raw device ID to a registered device.
type DeviceResolver interface {
	Resolve(ctx context.Context, id string) (device.Device, error)
}

// CommandQueue accepts hardware commands produced by settings changes.
type CommandQueue interface {
	EnqueueFor(ctx context.Context, deviceID string, cmdType command.Type, payload json.RawMessage) (*command.Command, error)
}

// EvaluateFunc inspects a normalised reading before it is committed.
// previous is nil for the first reading of a device.
type EvaluateFunc func(ctx context.Context, deviceID string, previous *Reading, reading Reading)

// ObserverFunc is called after every committed snapshot. Errors are logged.
type ObserverFunc func(ctx context.Context, snap Snapshot) error

type observer struct {
	name string
	fn   ObserverFunc
}

// Config controls history depth and presence defaults.
type Config struct {
	// HistoryLimit is the default history depth returned to clients.
	HistoryLimit int
	// CacheFloor is the minimum number of snapshots cached and retained per device.
	CacheFloor int
	// PresenceThresholdKg is used when a device has no calibrated threshold.
	PresenceThresholdKg float64
}

// Capacity is the cache size and persisted retention per device.
func (c Config) Capacity() int {
	return max(c.HistoryLimit, c.CacheFloor, minHistoryLimit)
}

// Manager owns the current and historical state of every device.
type Manager struct {
	cfg      Config
	repo     Repository
	devices  DeviceResolver
	locks    Locker
	evaluate EvaluateFunc
	commands CommandQueue
	logger   Logger
	now      func() time.Time

	observersMu sync.RWMutex
	observers   []observer

	latestMu sync.RWMutex
	latest   map[string]Snapshot

	configMu    sync.RWMutex
	settings    map[string]Settings
	calibration map[string]Calibration

	history *historyCache
}

// NewManager creates a manager. Collaborators other than the repository and
// device resolver are optional and set with the Set* methods.
//
// Parameters:
//   - cfg: history sizing and presence threshold; a history limit below the
//     minimum is raised to it
//   - repo: store for snapshots, settings and calibration
//   - devices: resolves and normalises device IDs
//
// Thread Safety:
//   - Readings for the same device are serialised by a per-device lock.
//   - Readings for different devices proceed in parallel.
func NewManager(cfg Config, repo Repository, devices DeviceResolver) *Manager {
	if cfg.HistoryLimit < minHistoryLimit {
		cfg.HistoryLimit = minHistoryLimit
	}
	return &Manager{
		cfg:         cfg,
		repo:        repo,
		devices:     devices,
		locks:       NewDeviceLocks(),
		logger:      noopLogger{},
		now:         time.Now,
		latest:      make(map[string]Snapshot),
		settings:    make(map[string]Settings),
		calibration: make(map[string]Calibration),
		history:     newHistoryCache(cfg.Capacity()),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetLocker replaces the default per-device mutex table.
func (m *Manager) SetLocker(l Locker) {
	m.locks = l
}

// SetEvaluator sets the function run on every normalised reading.
func (m *Manager) SetEvaluator(fn EvaluateFunc) {
	m.evaluate = fn
}

// SetCommandQueue sets where settings and calibration changes are sent.
func (m *Manager) SetCommandQueue(q CommandQueue) {
	m.commands = q
}

// AddObserver registers fn to run after every commit.
func (m *Manager) AddObserver(name string, fn ObserverFunc) {
	m.observersMu.Lock()
	m.observers = append(m.observers, observer{name: name, fn: fn})
	m.observersMu.Unlock()
}

// Load primes settings, calibration, the latest snapshot and the history
// cache for each device from the store.
func (m *Manager) Load(ctx context.Context, deviceIDs []string) error {
	for _, id := range deviceIDs {
		if _, err := m.Settings(ctx, id); err != nil {
			return err
		}
		if _, err := m.Calibration(ctx, id); err != nil {
			return err
		}

		rows, err := m.repo.ListSnapshots(ctx, id, m.cfg.Capacity())
		if err != nil {
			return fmt.Errorf("loading history for %s: %w", id, err)
		}
		m.history.merge(id, rows...)
		if len(rows) < m.cfg.Capacity() {
			m.history.markComplete(id)
		}
		if len(rows) > 0 {
			m.latestMu.Lock()
			m.latest[id] = rows[0]
			m.latestMu.Unlock()
		}
		m.logger.Debug("device state loaded", "device_id", id, "snapshots", len(rows))
	}
	return nil
}

// ApplyReading validates, normalises, evaluates and commits a reading.
// A zero timestamp is replaced with the receive time.
func (m *Manager) ApplyReading(ctx context.Context, deviceID string, r Reading) (Snapshot, error) {
	if err := r.Validate(); err != nil {
		return Snapshot{}, err
	}
	dev, err := m.devices.Resolve(ctx, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	id := dev.ID

	if r.Timestamp.IsZero() {
		r.Timestamp = m.now()
	}
	r.Timestamp = r.Timestamp.UTC()

	unlock := m.locks.Lock(id)
	defer unlock()

	settings, err := m.Settings(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	cal, err := m.Calibration(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	var previous *Reading
	if prev, ok := m.Latest(id); ok {
		p := prev.Reading
		previous = &p
	}

	normalized := normalize(r, carriedFrom(previous), settings, cal, m.cfg.PresenceThresholdKg)

	if m.evaluate != nil {
		m.evaluate(ctx, id, previous, normalized)
	}

	snap := Snapshot{
		DeviceID: id,
		Reading:  normalized,
		Settings: settings,
		Status:   DeriveStatus(normalized, settings),
	}
	m.commit(ctx, snap)
	return snap, nil
}

// ApplySettings stores new settings, re-derives the latest snapshot's status
// and queues an updateSettings command for the hardware.
func (m *Manager) ApplySettings(ctx context.Context, deviceID string, s Settings) (Settings, error) {
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	dev, err := m.devices.Resolve(ctx, deviceID)
	if err != nil {
		return Settings{}, err
	}
	id := dev.ID

	unlock := m.locks.Lock(id)
	defer unlock()

	if err := m.repo.SaveSettings(ctx, id, s); err != nil {
		return Settings{}, err
	}
	m.configMu.Lock()
	m.settings[id] = s
	m.configMu.Unlock()

	if snap, ok := m.Latest(id); ok {
		snap.Settings = s
		snap.Status = DeriveStatus(snap.Reading, s)
		m.commit(ctx, snap)
	}

	m.enqueue(ctx, id, command.TypeUpdateSettings, s)
	m.logger.Info("settings updated", "device_id", id)
	return s, nil
}

// ApplyCalibration stores a calibration profile and queues an
// updateCalibration command. UpdatedAt is set here.
func (m *Manager) ApplyCalibration(ctx context.Context, deviceID string, c Calibration) (Calibration, error) {
	if err := c.Validate(); err != nil {
		return Calibration{}, err
	}
	dev, err := m.devices.Resolve(ctx, deviceID)
	if err != nil {
		return Calibration{}, err
	}
	id := dev.ID

	unlock := m.locks.Lock(id)
	defer unlock()

	now := m.now().UTC()
	c.UpdatedAt = &now
	if err := m.repo.SaveCalibration(ctx, id, c); err != nil {
		return Calibration{}, err
	}
	m.configMu.Lock()
	m.calibration[id] = c
	m.configMu.Unlock()

	m.enqueue(ctx, id, command.TypeUpdateCalibration, c)
	m.logger.Info("calibration updated", "device_id", id)
	return c, nil
}

// PatchStatus merges sub-device status into the latest snapshot.
// Returns ErrNoSnapshot if the device has never reported.
func (m *Manager) PatchStatus(ctx context.Context, deviceID string, patch StatusPatch) (Snapshot, error) {
	dev, err := m.devices.Resolve(ctx, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	id := dev.ID

	unlock := m.locks.Lock(id)
	defer unlock()

	snap, ok := m.Latest(id)
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	if patch.Empty() {
		return snap, nil
	}

	if patch.Audio != nil {
		a := *patch.Audio
		a.VolumePercent = clampPercent(a.VolumePercent)
		snap.Reading.Audio = &a
	}
	if patch.UVFan != nil {
		u := *patch.UVFan
		snap.Reading.UVFan = &u
	}
	if patch.Vision != nil {
		v := *patch.Vision
		snap.Reading.Vision = &v
	}
	m.commit(ctx, snap)
	return snap, nil
}

// Latest returns the most recent snapshot for a device without taking the
// device lock.
func (m *Manager) Latest(deviceID string) (Snapshot, bool) {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()
	snap, ok := m.latest[device.NormalizeID(deviceID)]
	return snap, ok
}

// History returns up to limit snapshots, newest first. limit <= 0 means the
// configured history limit.
func (m *Manager) History(ctx context.Context, deviceID string, limit int) ([]Snapshot, error) {
	id := device.NormalizeID(deviceID)
	if limit <= 0 {
		limit = m.cfg.HistoryLimit
	}
	if cached, ok := m.history.recent(id, limit); ok {
		return cached, nil
	}

	fetch := max(limit, m.cfg.Capacity())
	rows, err := m.repo.ListSnapshots(ctx, id, fetch)
	if err != nil {
		return nil, err
	}
	m.history.merge(id, rows...)
	if len(rows) < fetch {
		m.history.markComplete(id)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// HistorySince returns every snapshot at or after since, newest first.
func (m *Manager) HistorySince(ctx context.Context, deviceID string, since time.Time) ([]Snapshot, error) {
	id := device.NormalizeID(deviceID)
	if cached, ok := m.history.since(id, since); ok {
		return cached, nil
	}

	rows, err := m.repo.ListSnapshotsSince(ctx, id, since)
	if err != nil {
		return nil, err
	}
	m.history.merge(id, rows...)
	return rows, nil
}

// Settings returns the device's settings, loading them on first use.
// Devices without stored settings get DefaultSettings.
func (m *Manager) Settings(ctx context.Context, deviceID string) (Settings, error) {
	id := device.NormalizeID(deviceID)

	m.configMu.RLock()
	s, ok := m.settings[id]
	m.configMu.RUnlock()
	if ok {
		return s, nil
	}

	s, found, err := m.repo.GetSettings(ctx, id)
	if err != nil {
		return Settings{}, err
	}
	if !found {
		s = DefaultSettings()
	}
	m.configMu.Lock()
	m.settings[id] = s
	m.configMu.Unlock()
	return s, nil
}

// Calibration returns the device's calibration, loading it on first use.
func (m *Manager) Calibration(ctx context.Context, deviceID string) (Calibration, error) {
	id := device.NormalizeID(deviceID)

	m.configMu.RLock()
	c, ok := m.calibration[id]
	m.configMu.RUnlock()
	if ok {
		return c, nil
	}

	c, _, err := m.repo.GetCalibration(ctx, id)
	if err != nil {
		return Calibration{}, err
	}
	m.configMu.Lock()
	m.calibration[id] = c
	m.configMu.Unlock()
	return c, nil
}

// commit publishes snap as the latest state, persists it and runs the
// observers. Callers hold the device lock.
func (m *Manager) commit(ctx context.Context, snap Snapshot) {
	m.latestMu.Lock()
	m.latest[snap.DeviceID] = snap
	m.latestMu.Unlock()

	if err := m.repo.SaveSnapshot(ctx, snap, m.cfg.Capacity()); err != nil {
		m.logger.Error("persisting snapshot failed",
			"device_id", snap.DeviceID,
			"timestamp", snap.Reading.Timestamp,
			"error", err,
		)
	} else {
		m.history.merge(snap.DeviceID, snap)
	}

	m.observersMu.RLock()
	observers := append([]observer(nil), m.observers...)
	m.observersMu.RUnlock()
	for _, o := range observers {
		if err := o.fn(ctx, snap); err != nil {
			m.logger.Warn("snapshot observer failed", "observer", o.name, "device_id", snap.DeviceID, "error", err)
		}
	}
}

func (m *Manager) enqueue(ctx context.Context, deviceID string, cmdType command.Type, payload any) {
	if m.commands == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("encoding command payload failed", "type", cmdType, "error", err)
		return
	}
	if _, err := m.commands.EnqueueFor(ctx, deviceID, cmdType, data); err != nil {
		m.logger.Warn("enqueueing hardware command failed", "device_id", deviceID, "type", cmdType, "error", err)
	}
}
