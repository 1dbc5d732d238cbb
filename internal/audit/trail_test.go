package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu        sync.Mutex
	entries   []Entry
	prunedAt  []time.Time
	createErr error
}

func (m *memoryRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memoryRepo) List(context.Context, Filter) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Page{Entries: append([]Entry(nil), m.entries...), Total: len(m.entries)}, nil
}

func (m *memoryRepo) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunedAt = append(m.prunedAt, before)
	return 0, nil
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestTrail_RecordDefaultsAndDrainOnCancel(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo, 8, 0)

	require.True(t, trail.Record(Entry{Action: ActionCreate, EntityType: EntityDevice, EntityID: "tama"}))
	require.True(t, trail.Record(Entry{Action: ActionDelete, EntityType: EntityDevice, EntityID: "tama", Source: "cli"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trail.Run(ctx)

	page, err := trail.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "api", page.Entries[0].Source)
	assert.False(t, page.Entries[0].CreatedAt.IsZero())
	assert.Equal(t, "cli", page.Entries[1].Source)
	assert.Empty(t, repo.prunedAt, "zero retention never prunes")
}

func TestTrail_DropsWhenFull(t *testing.T) {
	trail := NewTrail(&memoryRepo{}, 1, 0)

	assert.True(t, trail.Record(Entry{Action: ActionUpdate, EntityType: EntitySettings}))
	assert.False(t, trail.Record(Entry{Action: ActionUpdate, EntityType: EntitySettings}))
	assert.Equal(t, uint64(1), trail.Dropped())
}

func TestTrail_RunWritesInBackground(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		trail.Run(ctx)
		close(done)
	}()

	trail.Record(Entry{Action: ActionComplete, EntityType: EntityCommand, EntityID: "1"})
	assert.Eventually(t, func() bool { return repo.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestTrail_PrunesWithRetention(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo, 4, 24*time.Hour)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	trail.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trail.Run(ctx)

	require.Len(t, repo.prunedAt, 1)
	assert.True(t, repo.prunedAt[0].Equal(now.Add(-24*time.Hour)))
}

func TestTrail_WriteErrorIsLogged(t *testing.T) {
	repo := &memoryRepo{createErr: errors.New("disk full")}
	trail := NewTrail(repo, 4, 0)
	trail.Record(Entry{Action: ActionCreate, EntityType: EntityDevice})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { trail.Run(ctx) })
	assert.Equal(t, 0, repo.count())
}
