package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry wraps a Repository with an in-memory cache.
//
// The cache is loaded by RefreshCache at startup and kept in sync by Create
// and Delete. All methods are safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[string]Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	cache := make(map[string]Device, len(devices))
	for _, d := range devices {
		cache[d.ID] = d
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// EnsureDefault re-creates the default device if it is missing.
func (r *Registry) EnsureDefault(ctx context.Context) error {
	if _, err := r.Resolve(ctx, DefaultID); err == nil {
		return nil
	} else if !errors.Is(err, ErrDeviceNotFound) {
		return err
	}

	err := r.repo.Create(ctx, &Device{ID: DefaultID, Name: DefaultName})
	if err != nil && !errors.Is(err, ErrDeviceExists) {
		return fmt.Errorf("creating default device: %w", err)
	}
	r.logger.Warn("default device was missing and has been re-created")
	return r.RefreshCache(ctx)
}

// Resolve normalises id (empty means DefaultID) and returns the device.
// Returns ErrDeviceNotFound if it does not exist.
func (r *Registry) Resolve(ctx context.Context, id string) (Device, error) {
	id = NormalizeID(id)

	r.cacheMu.RLock()
	d, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return d, nil
	}

	found, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return Device{}, err
	}

	r.cacheMu.Lock()
	r.cache[id] = *found
	r.cacheMu.Unlock()
	return *found, nil
}

// List returns all cached devices ordered by creation time.
func (r *Registry) List() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, d)
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].CreatedAt.Equal(devices[j].CreatedAt) {
			return devices[i].ID < devices[j].ID
		}
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})
	return devices
}

// IDs returns the IDs of all cached devices.
func (r *Registry) IDs() []string {
	devices := r.List()
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}

// Create validates and stores a new device.
func (r *Registry) Create(ctx context.Context, d Device) (Device, error) {
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	if err := r.repo.Create(ctx, &d); err != nil {
		return Device{}, err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d
	r.cacheMu.Unlock()

	r.logger.Info("device created", "device_id", d.ID)
	return d, nil
}

// Delete removes a device. The default device cannot be deleted.
func (r *Registry) Delete(ctx context.Context, id string) error {
	id = NormalizeID(id)
	if id == DefaultID {
		return ErrDefaultDevice
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "device_id", id)
	return nil
}
