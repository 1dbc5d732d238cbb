package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/infrastructure/mqtt"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakeBroker struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  []published
	publishErr error
	subErr     error

	// hold, when set, makes Publish wait until it is closed.
	hold chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if b.subErr != nil {
		return b.subErr
	}
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.handlers, topic)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	hold := b.hold
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{topic, payload, qos, retained})
	return nil
}

func (b *fakeBroker) failWith(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func (b *fakeBroker) sent() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	b.mu.Lock()
	h, ok := b.handlers["habitat/reading/+"]
	b.mu.Unlock()
	require.True(t, ok, "no reading subscription")
	return h(topic, payload)
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []string
	last  snapshot.Reading
	err   error

	// during runs inside ApplyReading, the way alert sinks do.
	during func(deviceID string)
}

func (a *fakeApplier) ApplyReading(_ context.Context, deviceID string, r snapshot.Reading) (snapshot.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return snapshot.Snapshot{}, a.err
	}
	a.calls = append(a.calls, deviceID)
	a.last = r
	if a.during != nil {
		a.during(deviceID)
	}
	return snapshot.Snapshot{DeviceID: deviceID, Reading: r}, nil
}

func newTestLink(t *testing.T) (*Link, *fakeBroker, *fakeApplier) {
	t.Helper()
	broker := newFakeBroker()
	applier := &fakeApplier{}
	l, err := New(Options{Broker: broker, Topics: mqtt.Topics{Prefix: "habitat"}, QoS: 1, Readings: applier})
	require.NoError(t, err)
	return l, broker, applier
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{Readings: &fakeApplier{}})
	assert.Error(t, err)
	_, err = New(Options{Broker: newFakeBroker()})
	assert.Error(t, err)
}

func TestStart_SubscriptionFailure(t *testing.T) {
	l, broker, _ := newTestLink(t)
	broker.subErr = errors.New("broker down")

	require.Error(t, l.Start(context.Background()))
	l.Stop()
}

func TestReadingIsApplied(t *testing.T) {
	l, broker, applier := newTestLink(t)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	require.Error(t, l.Start(context.Background()), "second Start should fail")

	payload := []byte(`{"timestamp":"2026-03-01T12:00:00Z","temperatureC":24,"humidityPercent":50,"waterIntakeMl":100,"airQualityIndex":30,"catWeightKg":4.1,"lastFeedingMinutesAgo":20,"catPresent":true}`)
	require.NoError(t, broker.deliver(t, "habitat/reading/tama", payload))

	assert.Equal(t, []string{"tama"}, applier.calls)
	assert.Equal(t, 24.0, applier.last.TemperatureC)
	require.NotNil(t, applier.last.CatPresent)
	assert.True(t, *applier.last.CatPresent)
	assert.Equal(t, Metrics{ReadingsReceived: 1}, l.Metrics())
}

func TestReadingRejected(t *testing.T) {
	l, broker, applier := newTestLink(t)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	assert.Error(t, broker.deliver(t, "habitat/reading/tama", []byte("{not json")))
	assert.Error(t, broker.deliver(t, "habitat/reading/a/b", []byte("{}")))

	applier.err = snapshot.ErrInvalidReading
	err := broker.deliver(t, "habitat/reading/tama", []byte(`{"temperatureC":24}`))
	assert.ErrorIs(t, err, snapshot.ErrInvalidReading)

	m := l.Metrics()
	assert.Equal(t, uint64(2), m.ReadingsReceived)
	assert.Equal(t, uint64(3), m.ReadingsRejected)
}

func TestReadingAfterStopIsIgnored(t *testing.T) {
	l, broker, applier := newTestLink(t)
	require.NoError(t, l.Start(context.Background()))

	broker.mu.Lock()
	h := broker.handlers["habitat/reading/+"]
	broker.mu.Unlock()
	l.Stop()

	assert.NoError(t, h("habitat/reading/tama", []byte(`{}`)))
	assert.Empty(t, applier.calls)
	assert.Empty(t, broker.handlers, "Stop should unsubscribe")
}

func TestAnnounce(t *testing.T) {
	l, broker, _ := newTestLink(t)

	cmd := command.Command{ID: 42, DeviceID: "tama", Type: command.TypeUpdateSettings, Payload: json.RawMessage(`{"autoMode":false}`)}
	require.NoError(t, l.Announce(context.Background(), cmd))

	require.Len(t, broker.published, 1)
	p := broker.published[0]
	assert.Equal(t, "habitat/command/tama", p.topic)
	assert.False(t, p.retained)
	assert.Equal(t, byte(1), p.qos)
	assert.JSONEq(t, `{"id":42,"type":"updateSettings","payload":{"autoMode":false}}`, string(p.payload))

	require.NoError(t, l.Announce(context.Background(), command.Command{ID: 43, DeviceID: "tama", Type: command.TypeUpdateSettings}))
	assert.JSONEq(t, `{"id":43,"type":"updateSettings","payload":{}}`, string(broker.published[1].payload))
	assert.Equal(t, uint64(2), l.Metrics().CommandsAnnounced)
}

func TestAnnounce_PublishFailure(t *testing.T) {
	l, broker, _ := newTestLink(t)
	broker.failWith(mqtt.ErrNotConnected)

	err := l.Announce(context.Background(), command.Command{ID: 1, DeviceID: "default", Type: command.TypeUpdateSettings})
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
	assert.Equal(t, uint64(1), l.Metrics().PublishFailures)
}

func TestDispatchAlert(t *testing.T) {
	l, broker, _ := newTestLink(t)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)

	l.Dispatch(alert.Alert{
		ID:        "a-1",
		DeviceID:  "tama",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Message:   "Water level at 8%. Refill immediately.",
		Severity:  alert.SeverityCritical,
	})

	require.Eventually(t, func() bool { return len(broker.sent()) == 1 }, time.Second, 5*time.Millisecond)
	p := broker.sent()[0]
	assert.Equal(t, "habitat/alert/tama", p.topic)
	var got alert.Alert
	require.NoError(t, json.Unmarshal(p.payload, &got))
	assert.Equal(t, "a-1", got.ID)
	assert.Equal(t, alert.SeverityCritical, got.Severity)

	broker.failWith(errors.New("offline"))
	l.Dispatch(alert.Alert{ID: "a-2", DeviceID: "tama"})
	require.Eventually(t, func() bool { return l.Metrics().PublishFailures == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), l.Metrics().AlertsPublished)
}

func TestDispatchAlert_SlowBrokerDoesNotStallIngest(t *testing.T) {
	broker := newFakeBroker()
	broker.hold = make(chan struct{})
	applier := &fakeApplier{}
	l, err := New(Options{Broker: broker, Topics: mqtt.Topics{Prefix: "habitat"}, QoS: 1, Readings: applier})
	require.NoError(t, err)
	applier.during = func(deviceID string) {
		l.Dispatch(alert.Alert{ID: "a-" + deviceID, DeviceID: deviceID, Severity: alert.SeverityWarning})
	}
	require.NoError(t, l.Start(context.Background()))

	broker.mu.Lock()
	handler := broker.handlers["habitat/reading/+"]
	broker.mu.Unlock()
	require.NotNil(t, handler)

	done := make(chan error, 1)
	go func() { done <- handler("habitat/reading/tama", []byte(`{"temperatureC":24}`)) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reading blocked on alert publish")
	}
	assert.Empty(t, broker.sent())

	close(broker.hold)
	require.Eventually(t, func() bool { return len(broker.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "habitat/alert/tama", broker.sent()[0].topic)
	l.Stop()
}

func TestDispatchAlert_FullOutboxDrops(t *testing.T) {
	broker := newFakeBroker()
	l, err := New(Options{Broker: broker, Topics: mqtt.Topics{Prefix: "habitat"}, Readings: &fakeApplier{}, OutboxSize: 1})
	require.NoError(t, err)

	// Not started, so nothing drains the outbox.
	l.Dispatch(alert.Alert{ID: "a-1", DeviceID: "tama"})
	l.Dispatch(alert.Alert{ID: "a-2", DeviceID: "tama"})
	assert.Equal(t, uint64(1), l.Metrics().AlertsDropped)

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return l.Metrics().AlertsPublished == 1 }, time.Second, 5*time.Millisecond)
	l.Stop()
}
