package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/infrastructure/mqtt"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

const (
	// defaultApplyTimeout bounds processing of one inbound reading.
	defaultApplyTimeout = 10 * time.Second
	defaultOutboxSize   = 64
)

// Broker is the subset of the MQTT client the link needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ReadingApplier consumes decoded readings.
type ReadingApplier interface {
	ApplyReading(ctx context.Context, deviceID string, r snapshot.Reading) (snapshot.Snapshot, error)
}

// Logger is the structured logger used by the link.
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

// Options configures a Link.
type Options struct {
	Broker   Broker
	Topics   mqtt.Topics
	QoS      byte
	Readings ReadingApplier
	Logger   Logger

	// ApplyTimeout bounds one inbound reading. Zero means 10s.
	ApplyTimeout time.Duration

	// OutboxSize is how many alert events may wait for the broker. Zero
	// means 64. Alerts beyond it are dropped and counted.
	OutboxSize int
}

// Metrics are cumulative counters since the link was created.
type Metrics struct {
	ReadingsReceived  uint64 `json:"readingsReceived"`
	ReadingsRejected  uint64 `json:"readingsRejected"`
	CommandsAnnounced uint64 `json:"commandsAnnounced"`
	AlertsPublished   uint64 `json:"alertsPublished"`
	AlertsDropped     uint64 `json:"alertsDropped"`
	PublishFailures   uint64 `json:"publishFailures"`
}

// outboundAlert is an encoded alert waiting for the publisher.
type outboundAlert struct {
	id       string
	deviceID string
	payload  []byte
}

// Link is the MQTT side of the device transport. It implements
// command.Notifier and alert.Sink.
type Link struct {
	broker   Broker
	topics   mqtt.Topics
	qos      byte
	readings ReadingApplier
	logger   Logger
	timeout  time.Duration
	outbox   chan outboundAlert

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	readingsReceived  atomic.Uint64
	readingsRejected  atomic.Uint64
	commandsAnnounced atomic.Uint64
	alertsPublished   atomic.Uint64
	alertsDropped     atomic.Uint64
	publishFailures   atomic.Uint64
}

// New validates opts and creates a stopped link.
func New(opts Options) (*Link, error) {
	if opts.Broker == nil {
		return nil, errors.New("devicelink: broker is required")
	}
	if opts.Readings == nil {
		return nil, errors.New("devicelink: reading applier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	timeout := opts.ApplyTimeout
	if timeout <= 0 {
		timeout = defaultApplyTimeout
	}
	size := opts.OutboxSize
	if size <= 0 {
		size = defaultOutboxSize
	}
	return &Link{
		broker:   opts.Broker,
		topics:   opts.Topics,
		qos:      opts.QoS,
		readings: opts.Readings,
		logger:   logger,
		timeout:  timeout,
		outbox:   make(chan outboundAlert, size),
	}, nil
}

// Start subscribes to device readings. Inbound messages are processed
// until ctx is cancelled or Stop is called.
func (l *Link) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("devicelink: already started")
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	topic := l.topics.AllReadings()
	if err := l.broker.Subscribe(topic, l.qos, l.handleReading); err != nil {
		l.cancel()
		return fmt.Errorf("devicelink: subscribing to readings: %w", err)
	}
	l.started = true
	l.wg.Add(1)
	go l.publishAlerts(l.ctx)
	l.logger.Info("device link started", "topic", topic)
	return nil
}

// Stop unsubscribes and waits for in-flight readings and the alert
// publisher to finish. Alerts still queued are discarded.
func (l *Link) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.cancel()
	l.mu.Unlock()

	if err := l.broker.Unsubscribe(l.topics.AllReadings()); err != nil {
		l.logger.Warn("unsubscribing from readings failed", "error", err)
	}
	l.wg.Wait()
	l.logger.Info("device link stopped")
}

func (l *Link) runContext() (context.Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil, false
	}
	l.wg.Add(1)
	return l.ctx, true
}

// handleReading runs on the MQTT client's goroutine. Errors are returned
// for the client to log.
func (l *Link) handleReading(topic string, payload []byte) error {
	deviceID, ok := l.topics.ParseReading(topic)
	if !ok {
		l.readingsRejected.Add(1)
		return fmt.Errorf("devicelink: unexpected reading topic %q", topic)
	}

	parent, ok := l.runContext()
	if !ok {
		return nil
	}
	defer l.wg.Done()

	l.readingsReceived.Add(1)

	var r snapshot.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		l.readingsRejected.Add(1)
		l.logger.Warn("malformed reading", "device_id", deviceID, "error", err)
		return fmt.Errorf("devicelink: decoding reading from %s: %w", deviceID, err)
	}

	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()

	snap, err := l.readings.ApplyReading(ctx, deviceID, r)
	if err != nil {
		l.readingsRejected.Add(1)
		l.logger.Warn("reading rejected", "device_id", deviceID, "error", err)
		return fmt.Errorf("devicelink: applying reading from %s: %w", deviceID, err)
	}
	l.logger.Debug("reading applied", "device_id", snap.DeviceID, "timestamp", snap.Reading.Timestamp)
	return nil
}

// commandMessage is the announcement published for a queued command.
type commandMessage struct {
	ID      int64           `json:"id"`
	Type    command.Type    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Announce implements command.Notifier.
func (l *Link) Announce(_ context.Context, cmd command.Command) error {
	payload := cmd.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	data, err := json.Marshal(commandMessage{ID: cmd.ID, Type: cmd.Type, Payload: payload})
	if err != nil {
		return fmt.Errorf("devicelink: encoding command %d: %w", cmd.ID, err)
	}
	if err := l.broker.Publish(l.topics.Command(cmd.DeviceID), data, l.qos, false); err != nil {
		l.publishFailures.Add(1)
		return fmt.Errorf("devicelink: announcing command %d: %w", cmd.ID, err)
	}
	l.commandsAnnounced.Add(1)
	return nil
}

// Dispatch implements alert.Sink. It only queues the alert: Dispatch runs
// inside ApplyReading, often on the MQTT client's own goroutine, where
// waiting for a publish acknowledgement could stall or deadlock ingestion.
func (l *Link) Dispatch(a alert.Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		l.logger.Error("encoding alert failed", "alert_id", a.ID, "error", err)
		return
	}
	select {
	case l.outbox <- outboundAlert{id: a.ID, deviceID: a.DeviceID, payload: data}:
	default:
		l.alertsDropped.Add(1)
		l.logger.Warn("alert outbox full, dropping alert", "alert_id", a.ID, "device_id", a.DeviceID)
	}
}

// publishAlerts drains the outbox until ctx is cancelled.
func (l *Link) publishAlerts(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-l.outbox:
			if err := l.broker.Publish(l.topics.Alert(out.deviceID), out.payload, l.qos, false); err != nil {
				l.publishFailures.Add(1)
				l.logger.Warn("publishing alert failed", "alert_id", out.id, "device_id", out.deviceID, "error", err)
				continue
			}
			l.alertsPublished.Add(1)
		}
	}
}

// Metrics returns the current counters.
func (l *Link) Metrics() Metrics {
	return Metrics{
		ReadingsReceived:  l.readingsReceived.Load(),
		ReadingsRejected:  l.readingsRejected.Load(),
		CommandsAnnounced: l.commandsAnnounced.Load(),
		AlertsPublished:   l.alertsPublished.Load(),
		AlertsDropped:     l.alertsDropped.Load(),
		PublishFailures:   l.publishFailures.Load(),
	}
}
