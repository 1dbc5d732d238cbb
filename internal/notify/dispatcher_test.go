package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcat/habitat-core/internal/alert"
)

type memTargets struct {
	mu      sync.Mutex
	subs    []WebSubscription
	devices []NativeDevice
	listErr error
}

func (m *memTargets) SaveWebSubscription(_ context.Context, s WebSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
	return nil
}

func (m *memTargets) RemoveWebSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.Endpoint == endpoint {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrTargetNotFound
}

func (m *memTargets) ListWebSubscriptions(context.Context) ([]WebSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebSubscription(nil), m.subs...), m.listErr
}

func (m *memTargets) SaveNativeDevice(_ context.Context, d NativeDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, d)
	return nil
}

func (m *memTargets) RemoveNativeDevice(ctx context.Context, token string) error {
	n, _ := m.RemoveNativeDevices(ctx, []string{token})
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

func (m *memTargets) RemoveNativeDevices(_ context.Context, tokens []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		drop[t] = true
	}
	kept := m.devices[:0]
	removed := 0
	for _, d := range m.devices {
		if drop[d.Token] {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	m.devices = kept
	return removed, nil
}

func (m *memTargets) ListNativeDevices(context.Context) ([]NativeDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]NativeDevice(nil), m.devices...), nil
}

func (m *memTargets) endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.subs {
		out = append(out, s.Endpoint)
	}
	return out
}

type fakeWeb struct {
	mu       sync.Mutex
	sent     []string
	failures map[string]error
	payloads [][]byte
}

func (f *fakeWeb) Send(_ context.Context, sub WebSubscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[sub.Endpoint]; ok {
		return err
	}
	f.sent = append(f.sent, sub.Endpoint)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeTransport struct {
	kind    TransportKind
	mu      sync.Mutex
	calls   [][]string
	msgs    []Message
	invalid map[string]bool
	err     error
}

func (f *fakeTransport) Name() TransportKind { return f.kind }

func (f *fakeTransport) Send(_ context.Context, tokens []string, msg Message) (TransportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tokens)
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return TransportResult{}, f.err
	}
	res := TransportResult{Targeted: len(tokens)}
	for _, t := range tokens {
		if f.invalid[t] {
			res.Invalid = append(res.Invalid, t)
			continue
		}
		res.Sent++
	}
	return res, nil
}

func webSubs(n int) []WebSubscription {
	subs := make([]WebSubscription, n)
	for i := range subs {
		subs[i] = WebSubscription{
			Endpoint: fmt.Sprintf("https://push.example.com/%02d", i),
			Keys:     WebKeys{P256dh: "p", Auth: "a"},
			Language: alert.LangEN,
		}
	}
	return subs
}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return nil
}

func newTestDispatcher(targets *memTargets, web WebSender, transports ...Transport) (*Dispatcher, *sleepRecorder) {
	d := NewDispatcher(Config{BatchSize: 10, BatchDelay: 200 * time.Millisecond}, targets, web, transports...)
	rec := &sleepRecorder{}
	d.sleep = rec.sleep
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return d, rec
}

func TestDispatcher_InfoAlertsArePushed(t *testing.T) {
	targets := &memTargets{subs: webSubs(2)}
	web := &fakeWeb{}
	d, _ := newTestDispatcher(targets, web)

	a := keyedAlert()
	a.Severity = alert.SeverityInfo
	a.MessageKey = alert.KeyCatLeft

	s := d.Deliver(context.Background(), a)
	assert.Equal(t, Outcome{Targeted: 2, Sent: 2}, s.Web)
	assert.ElementsMatch(t, []string{webSubs(2)[0].Endpoint, webSubs(2)[1].Endpoint}, web.sent)
}

func TestDispatcher_ZeroTargets(t *testing.T) {
	d, _ := newTestDispatcher(&memTargets{}, &fakeWeb{}, &fakeTransport{kind: TransportAPNs})

	s := d.Deliver(context.Background(), keyedAlert())
	assert.Equal(t, Summary{}, s)

	h := d.Health()
	assert.Zero(t, h.Channels[ChannelWeb].SuccessCount)
	assert.Zero(t, h.Channels[ChannelNative].FailureCount)
}

func TestDispatcher_WebBatches(t *testing.T) {
	targets := &memTargets{subs: webSubs(25)}
	web := &fakeWeb{}
	d, rec := newTestDispatcher(targets, web)

	s := d.Deliver(context.Background(), keyedAlert())

	assert.Equal(t, Outcome{Targeted: 25, Sent: 25}, s.Web)
	assert.Len(t, web.sent, 25)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, rec.calls,
		"one pause between each pair of batches, none after the last")
	assert.Contains(t, string(web.payloads[0]), `"alertId":"a-1"`)
}

func TestDispatcher_WebExpiredSubscriptionRemoved(t *testing.T) {
	targets := &memTargets{subs: webSubs(3)}
	web := &fakeWeb{failures: map[string]error{
		"https://push.example.com/00": &StatusError{StatusCode: http.StatusGone},
		"https://push.example.com/01": errors.New("connection reset"),
	}}
	d, _ := newTestDispatcher(targets, web)

	s := d.Deliver(context.Background(), keyedAlert())

	assert.Equal(t, Outcome{Targeted: 3, Sent: 1, Failed: 2}, s.Web)
	assert.Equal(t, []string{"https://push.example.com/01", "https://push.example.com/02"}, targets.endpoints(),
		"only the 410 subscription is removed")

	h := d.Health().Channels[ChannelWeb]
	assert.Equal(t, 1, h.SuccessCount)
	assert.Equal(t, 2, h.FailureCount)
	assert.NotNil(t, h.LastFailureAt)
	assert.NotEmpty(t, h.LastError)
}

func TestDispatcher_NativePartitionsByTransport(t *testing.T) {
	targets := &memTargets{devices: []NativeDevice{
		{Token: "ios-1", Platform: PlatformIOS, Transport: TransportAPNs},
		{Token: "ios-dead", Platform: PlatformIOS, Transport: TransportAPNs},
		{Token: "droid-1", Platform: PlatformAndroid, Transport: TransportFCM},
	}}
	apns := &fakeTransport{kind: TransportAPNs, invalid: map[string]bool{"ios-dead": true}}
	fcm := &fakeTransport{kind: TransportFCM}
	d, _ := newTestDispatcher(targets, nil, apns, fcm)

	a := keyedAlert()
	a.Severity = alert.SeverityCritical
	s := d.Deliver(context.Background(), a)

	assert.Equal(t, Outcome{}, s.Web)
	assert.Equal(t, Outcome{Targeted: 3, Sent: 2, Failed: 1}, s.Native)

	require.Len(t, apns.calls, 1)
	assert.ElementsMatch(t, []string{"ios-1", "ios-dead"}, apns.calls[0])
	require.Len(t, fcm.calls, 1)
	assert.Equal(t, []string{"droid-1"}, fcm.calls[0])

	assert.Equal(t, "🚨 Critical Alert", apns.msgs[0].Title)
	assert.Equal(t, "waterLevelLow", apns.msgs[0].Data["messageKey"])

	remaining, err := targets.ListNativeDevices(context.Background())
	require.NoError(t, err)
	var tokens []string
	for _, dev := range remaining {
		tokens = append(tokens, dev.Token)
	}
	sort.Strings(tokens)
	assert.Equal(t, []string{"droid-1", "ios-1"}, tokens)
}

func TestDispatcher_NativeWithoutTransportCountsAsFailed(t *testing.T) {
	targets := &memTargets{devices: []NativeDevice{
		{Token: "ios-1", Platform: PlatformIOS, Transport: TransportAPNs},
		{Token: "droid-1", Platform: PlatformAndroid, Transport: TransportFCM},
	}}
	apns := &fakeTransport{kind: TransportAPNs}
	d, _ := newTestDispatcher(targets, nil, apns)

	s := d.Deliver(context.Background(), keyedAlert())
	assert.Equal(t, Outcome{Targeted: 2, Sent: 1, Failed: 1}, s.Native)
}

func TestDispatcher_TransportErrorRecorded(t *testing.T) {
	targets := &memTargets{devices: []NativeDevice{{Token: "ios-1", Platform: PlatformIOS, Transport: TransportAPNs}}}
	apns := &fakeTransport{kind: TransportAPNs, err: errors.New("apns down")}
	d, _ := newTestDispatcher(targets, nil, apns)

	s := d.Deliver(context.Background(), keyedAlert())
	assert.Equal(t, Outcome{Targeted: 1, Failed: 1}, s.Native)
	assert.Equal(t, "apns down", d.Health().Channels[ChannelNative].LastError)
}

func TestDispatcher_SendTest(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		d, _ := newTestDispatcher(&memTargets{}, nil)
		_, err := d.SendTest(context.Background(), TestRequest{})
		assert.ErrorIs(t, err, ErrPushNotConfigured)
	})

	t.Run("bypasses the severity gate", func(t *testing.T) {
		targets := &memTargets{subs: webSubs(1)}
		web := &fakeWeb{}
		d, _ := newTestDispatcher(targets, web)

		s, err := d.SendTest(context.Background(), TestRequest{Title: "Hello", URL: "/#settings"})
		require.NoError(t, err)
		assert.Equal(t, Outcome{Targeted: 1, Sent: 1}, s.Web)
		require.Len(t, web.payloads, 1)
		body := string(web.payloads[0])
		assert.Contains(t, body, `"test":true`)
		assert.Contains(t, body, `"title":"Hello"`)
		assert.Contains(t, body, `"severity":"info"`)
	})
}

func TestDispatcher_DispatchRunsInBackground(t *testing.T) {
	targets := &memTargets{subs: webSubs(2)}
	web := &fakeWeb{}
	d, _ := newTestDispatcher(targets, web)

	var sink alert.Sink = d
	sink.Dispatch(keyedAlert())
	info := keyedAlert()
	info.Severity = alert.SeverityInfo
	sink.Dispatch(info)
	d.Wait()

	assert.Len(t, web.sent, 4)
	assert.Equal(t, 4, d.Health().Channels[ChannelWeb].SuccessCount)
}

func TestDispatcher_HealthFlags(t *testing.T) {
	d, _ := newTestDispatcher(&memTargets{}, &fakeWeb{})
	h := d.Health()
	assert.True(t, h.WebEnabled)
	assert.False(t, h.NativeEnabled)
	assert.True(t, d.Enabled())
}
