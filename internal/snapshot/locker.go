package snapshot

import "sync"

// Locker serialises mutations per device. Lock blocks until the device's
// lock is held and returns the function that releases it.
type Locker interface {
	Lock(deviceID string) (unlock func())
}

// DeviceLocks is the default Locker: one sync.Mutex per device ID.
type DeviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDeviceLocks creates an empty per-device lock table.
func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock implements Locker.
func (d *DeviceLocks) Lock(deviceID string) func() {
	d.mu.Lock()
	l, ok := d.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[deviceID] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}
