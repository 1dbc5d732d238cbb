package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartcat/habitat-core/internal/alert"
)

// Logger defines the logging interface used by the dispatcher.
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

// Config controls delivery.
type Config struct {
	// BatchSize is the number of web subscriptions sent to concurrently.
	BatchSize int
	// BatchDelay is the pause between web batches.
	BatchDelay time.Duration
	// DeliveryTimeout bounds one background Dispatch.
	DeliveryTimeout time.Duration
	Title           string
	Language        alert.Lang
}

// Dispatcher delivers alerts to every registered target.
type Dispatcher struct {
	cfg        Config
	targets    TargetRepository
	web        WebSender
	transports map[TransportKind]Transport
	logger     Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	healthMu sync.Mutex
	health   map[Channel]*ChannelHealth

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
//
// Parameters:
//   - cfg: batch size and delay, delivery timeout and default title
//   - targets: registered web subscriptions and native devices
//   - web: web-push sender, nil when VAPID keys are not configured
//   - transports: native transports (APNs, FCM); none disables native push
//
// Thread Safety:
//   - Dispatch never blocks; each alert is delivered on its own goroutine.
//   - Health counters are guarded and may be read concurrently.
func NewDispatcher(cfg Config, targets TargetRepository, web WebSender, transports ...Transport) *Dispatcher {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Language == "" {
		cfg.Language = alert.LangEN
	}
	d := &Dispatcher{
		cfg:        cfg,
		targets:    targets,
		web:        web,
		transports: make(map[TransportKind]Transport),
		logger:     noopLogger{},
		now:        time.Now,
		sleep:      sleepContext,
		health: map[Channel]*ChannelHealth{
			ChannelWeb:    {},
			ChannelNative: {},
		},
	}
	for _, t := range transports {
		if t != nil {
			d.transports[t.Name()] = t
		}
	}
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Enabled reports whether any push channel is configured.
func (d *Dispatcher) Enabled() bool {
	return d.web != nil || len(d.transports) > 0
}

// Dispatch implements alert.Sink. Delivery runs in the background with the
// configured timeout.
func (d *Dispatcher) Dispatch(a alert.Alert) {
	if !d.Enabled() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
		defer cancel()

		s := d.Deliver(ctx, a)
		d.logger.Debug("alert delivered",
			"alert_id", a.ID,
			"web_sent", s.Web.Sent, "web_failed", s.Web.Failed,
			"native_sent", s.Native.Sent, "native_failed", s.Native.Failed,
		)
	}()
}

// Wait blocks until background deliveries started by Dispatch finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver pushes a to every target, whatever its severity.
func (d *Dispatcher) Deliver(ctx context.Context, a alert.Alert) Summary {
	return d.deliver(ctx, a, Context{Title: d.cfg.Title})
}

// TestRequest describes a synthetic test notification.
type TestRequest struct {
	Severity alert.Severity
	Message  string
	Title    string
	URL      string
	Action   string
}

// SendTest delivers a synthetic alert to every target regardless of
// severity. It returns ErrPushNotConfigured when no channel is enabled.
func (d *Dispatcher) SendTest(ctx context.Context, req TestRequest) (Summary, error) {
	if !d.Enabled() {
		return Summary{}, ErrPushNotConfigured
	}
	now := d.now().UTC()
	sev := req.Severity
	if !sev.Valid() {
		sev = alert.SeverityInfo
	}
	msg := req.Message
	if msg == "" {
		msg = "Test alert from Smart Cat Home at " + now.Format(time.RFC1123)
	}
	title := req.Title
	if title == "" {
		title = d.cfg.Title
	}

	a := alert.Alert{
		ID:        "test-" + now.Format("20060102T150405.000"),
		Timestamp: now,
		Message:   msg,
		Severity:  sev,
	}
	return d.deliver(ctx, a, Context{Title: title, URL: req.URL, Action: req.Action, Test: true}), nil
}

func (d *Dispatcher) deliver(ctx context.Context, a alert.Alert, pc Context) Summary {
	p := BuildPayload(a, d.cfg.Language, pc)
	var s Summary
	if d.web != nil {
		s.Web = d.deliverWeb(ctx, p)
	}
	if len(d.transports) > 0 {
		s.Native = d.deliverNative(ctx, a, p)
	}
	return s
}

func (d *Dispatcher) deliverWeb(ctx context.Context, p Payload) Outcome {
	subs, err := d.targets.ListWebSubscriptions(ctx)
	if err != nil {
		d.logger.Error("listing push subscriptions failed", "error", err)
		d.record(ChannelWeb, 0, 0, err)
		return Outcome{}
	}
	out := Outcome{Targeted: len(subs)}
	if len(subs) == 0 {
		return out
	}

	body, err := json.Marshal(p)
	if err != nil {
		d.logger.Error("encoding push payload failed", "error", err)
		d.record(ChannelWeb, 0, len(subs), err)
		out.Failed = len(subs)
		return out
	}

	var (
		mu      sync.Mutex
		lastErr error
	)
	for start := 0; start < len(subs); start += d.cfg.BatchSize {
		batch := subs[start:min(start+d.cfg.BatchSize, len(subs))]

		var g errgroup.Group
		for _, sub := range batch {
			sub := sub
			g.Go(func() error {
				err := d.web.Send(ctx, sub, body)

				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					out.Sent++
					return nil
				}
				out.Failed++
				lastErr = err
				if expired(err) {
					d.logger.Warn("removing expired push subscription", "endpoint", sub.Endpoint)
					if rmErr := d.targets.RemoveWebSubscription(ctx, sub.Endpoint); rmErr != nil {
						d.logger.Warn("removing push subscription failed", "endpoint", sub.Endpoint, "error", rmErr)
					}
				} else {
					d.logger.Warn("web push failed", "endpoint", sub.Endpoint, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // failures are counted per subscription

		if start+d.cfg.BatchSize < len(subs) && d.cfg.BatchDelay > 0 {
			if err := d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				rest := len(subs) - start - len(batch)
				out.Failed += rest
				lastErr = err
				break
			}
		}
	}

	d.record(ChannelWeb, out.Sent, out.Failed, lastErr)
	return out
}

func (d *Dispatcher) deliverNative(ctx context.Context, a alert.Alert, p Payload) Outcome {
	devices, err := d.targets.ListNativeDevices(ctx)
	if err != nil {
		d.logger.Error("listing native push devices failed", "error", err)
		d.record(ChannelNative, 0, 0, err)
		return Outcome{}
	}
	out := Outcome{Targeted: len(devices)}
	if len(devices) == 0 {
		return out
	}

	byTransport := make(map[TransportKind][]string)
	for _, dev := range devices {
		byTransport[dev.Transport] = append(byTransport[dev.Transport], dev.Token)
	}

	msg := Message{
		Title:    SeverityTitle(a.Severity, d.cfg.Language),
		Body:     p.Body,
		Severity: string(a.Severity),
		Data:     p.Flatten(),
	}

	var lastErr error
	for kind, tokens := range byTransport {
		t, ok := d.transports[kind]
		if !ok {
			d.logger.Debug("no transport configured for native devices", "transport", kind, "count", len(tokens))
			continue
		}
		res, err := t.Send(ctx, tokens, msg)
		if err != nil {
			lastErr = err
			d.logger.Error("native push failed", "transport", kind, "error", err)
			continue
		}
		out.Sent += res.Sent
		if res.Err != nil {
			lastErr = res.Err
			d.logger.Warn("native push partially failed", "transport", kind, "error", res.Err)
		}
		if len(res.Invalid) > 0 {
			n, err := d.targets.RemoveNativeDevices(ctx, res.Invalid)
			if err != nil {
				d.logger.Warn("removing invalid native devices failed", "transport", kind, "error", err)
			} else {
				d.logger.Warn("removed invalid native devices", "transport", kind, "count", n)
			}
		}
	}

	out.Failed = max(out.Targeted-out.Sent, 0)
	d.record(ChannelNative, out.Sent, out.Failed, lastErr)
	return out
}

func (d *Dispatcher) record(ch Channel, success, failure int, err error) {
	now := d.now().UTC()
	d.healthMu.Lock()
	defer d.healthMu.Unlock()

	h := d.health[ch]
	if success > 0 {
		h.SuccessCount += success
		h.LastSuccessAt = &now
	}
	if failure > 0 {
		h.FailureCount += failure
		h.LastFailureAt = &now
	}
	if err != nil {
		h.LastError = err.Error()
	}
}

// Health returns a copy of the delivery record.
func (d *Dispatcher) Health() Health {
	d.healthMu.Lock()
	defer d.healthMu.Unlock()

	channels := make(map[Channel]ChannelHealth, len(d.health))
	for ch, h := range d.health {
		channels[ch] = *h
	}
	return Health{
		WebEnabled:    d.web != nil,
		NativeEnabled: len(d.transports) > 0,
		Channels:      channels,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
