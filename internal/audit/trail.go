package audit

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the queue length used when none is configured.
const DefaultBufferSize = 256

const pruneInterval = time.Hour

// Logger is the structured logger used by the trail.
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

// Trail queues entries and writes them in the background.
type Trail struct {
	repo      Repository
	queue     chan *Entry
	retention time.Duration
	logger    Logger
	now       func() time.Time
	dropped   atomic.Uint64
}

// NewTrail creates a trail with a queue of bufferSize entries. Entries
// older than retention are pruned by Run; zero retention keeps everything.
func NewTrail(repo Repository, bufferSize int, retention time.Duration) *Trail {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Trail{
		repo:      repo,
		queue:     make(chan *Entry, bufferSize),
		retention: retention,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the trail.
func (t *Trail) SetLogger(logger Logger) {
	t.logger = logger
}

// Record queues e without blocking. It reports false when the queue is full
// and the entry was dropped.
func (t *Trail) Record(e Entry) bool {
	if e.Source == "" {
		e.Source = "api"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	select {
	case t.queue <- &e:
		return true
	default:
		t.dropped.Add(1)
		t.logger.Warn("audit queue full, dropping entry", "action", e.Action, "entity_type", e.EntityType)
		return false
	}
}

// Dropped is the number of entries lost to a full queue.
func (t *Trail) Dropped() uint64 {
	return t.dropped.Load()
}

// List reads entries from the repository.
func (t *Trail) List(ctx context.Context, filter Filter) (*Page, error) {
	return t.repo.List(ctx, filter)
}

// Run writes queued entries until ctx is cancelled, then drains what is
// left. It prunes once at start and hourly afterwards.
func (t *Trail) Run(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	t.prune(ctx)
	for {
		select {
		case e := <-t.queue:
			t.write(context.WithoutCancel(ctx), e)
		case <-ticker.C:
			t.prune(ctx)
		case <-ctx.Done():
			for {
				select {
				case e := <-t.queue:
					t.write(context.WithoutCancel(ctx), e)
				default:
					return
				}
			}
		}
	}
}

func (t *Trail) write(ctx context.Context, e *Entry) {
	if err := t.repo.Create(ctx, e); err != nil {
		t.logger.Error("audit write failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}

func (t *Trail) prune(ctx context.Context) {
	if t.retention <= 0 {
		return
	}
	n, err := t.repo.Prune(ctx, t.now().Add(-t.retention))
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Error("audit prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		t.logger.Info("audit entries pruned", "count", n)
	}
}
