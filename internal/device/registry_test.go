package device

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository is an in-memory Repository for registry tests.
type mockRepository struct {
	mu       sync.Mutex
	devices  map[string]Device
	listErr  error
	getCalls int
}

func newMockRepository(devices ...Device) *mockRepository {
	m := &mockRepository{devices: make(map[string]Device)}
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	return m
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return &d, nil
}

func (m *mockRepository) List(context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockRepository) Create(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; ok {
		return ErrDeviceExists
	}
	m.devices[d.ID] = *d
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func TestRegistry_ResolveEmptyIDMeansDefault(t *testing.T) {
	repo := newMockRepository(Device{ID: DefaultID, Name: DefaultName})
	reg := NewRegistry(repo)
	require.NoError(t, reg.RefreshCache(context.Background()))

	for _, id := range []string{"", "   ", "default"} {
		d, err := reg.Resolve(context.Background(), id)
		require.NoError(t, err, "id %q", id)
		assert.Equal(t, DefaultID, d.ID)
	}
	assert.Zero(t, repo.getCalls, "cached lookups should not hit the repository")
}

func TestRegistry_ResolveFallsBackToRepository(t *testing.T) {
	repo := newMockRepository()
	reg := NewRegistry(repo)

	_, err := reg.Resolve(context.Background(), "mochi")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	repo.devices["mochi"] = Device{ID: "mochi", Name: "Mochi"}
	d, err := reg.Resolve(context.Background(), "mochi")
	require.NoError(t, err)
	assert.Equal(t, "Mochi", d.Name)

	_, err = reg.Resolve(context.Background(), "mochi")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.getCalls)
}

func TestRegistry_EnsureDefaultRecreatesMissingDevice(t *testing.T) {
	repo := newMockRepository()
	reg := NewRegistry(repo)

	require.NoError(t, reg.EnsureDefault(context.Background()))
	d, err := reg.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, d.Name)

	// Second call is a no-op.
	require.NoError(t, reg.EnsureDefault(context.Background()))
	assert.Len(t, reg.List(), 1)
}

func TestRegistry_CreateValidates(t *testing.T) {
	reg := NewRegistry(newMockRepository())

	tests := []struct {
		name    string
		device  Device
		wantErr error
	}{
		{"valid", Device{ID: "tama", Name: "Tama"}, nil},
		{"uppercase id", Device{ID: "Tama", Name: "Tama"}, ErrInvalidDevice},
		{"empty name", Device{ID: "kuro", Name: "  "}, ErrInvalidDevice},
		{"duplicate", Device{ID: "tama", Name: "Tama again"}, ErrDeviceExists},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(context.Background(), tt.device)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_DeleteDefaultRefused(t *testing.T) {
	reg := NewRegistry(newMockRepository(Device{ID: DefaultID, Name: DefaultName}))
	assert.ErrorIs(t, reg.Delete(context.Background(), ""), ErrDefaultDevice)
}

func TestRegistry_DeleteRemovesFromCache(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	_, err := reg.Create(context.Background(), Device{ID: "tama", Name: "Tama"})
	require.NoError(t, err)

	require.NoError(t, reg.Delete(context.Background(), "tama"))
	assert.Empty(t, reg.IDs())
	assert.ErrorIs(t, reg.Delete(context.Background(), "tama"), ErrDeviceNotFound)
}

func TestRegistry_RefreshCacheError(t *testing.T) {
	repo := newMockRepository()
	repo.listErr = errors.New("disk on fire")
	reg := NewRegistry(repo)

	err := reg.RefreshCache(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.listErr)
}
