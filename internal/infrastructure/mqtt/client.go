package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartcat/habitat-core/internal/infrastructure/config"
)

// Logger receives handler failures. Handler errors are warnings, recovered
// panics are errors.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one received message on a paho goroutine. A
// returned error is logged; the message is acknowledged regardless.
type MessageHandler func(topic string, payload []byte) error

// hooks are the caller-supplied callbacks, swapped as a unit.
type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Client wraps paho with the habitat topic layout, a retained presence
// message and subscriptions that survive reconnects. It is safe for
// concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	subs   *subscriptionSet
	online atomic.Bool

	hooksMu sync.RWMutex
	hooks   hooks
}

// Connect dials the broker and waits up to 10 seconds for the session.
// paho keeps retrying in the background after a later connection loss.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		subs:   newSubscriptionSet(),
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(c.topics.SystemStatus(), string(presence("offline", cfg.Broker.ClientID, "unexpected_disconnect")), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		// SetConnectRetry leaves a retry loop running until Disconnect.
		c.paho.Disconnect(0)
		return nil, err
	}
	// The OnConnect handler is asynchronous; do not wait for it.
	c.online.Store(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS is the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// handleConnect runs on the first connect and every reconnect.
func (c *Client) handleConnect() {
	c.online.Store(true)

	for _, sub := range c.subs.all() {
		c.paho.Subscribe(sub.topic, sub.qos, c.deliver(sub.handler))
	}
	c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true, presence("online", c.cfg.Broker.ClientID, ""))

	if fn := c.currentHooks().onConnect; fn != nil {
		fn()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.online.Store(false)
	if fn := c.currentHooks().onDisconnect; fn != nil {
		fn(err)
	}
}

// Close announces a graceful offline status and disconnects. It is safe
// on a nil client.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true,
			presence("offline", c.cfg.Broker.ClientID, "graceful_shutdown")).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.online.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is currently up.
func (c *Client) IsConnected() bool {
	return c.online.Load() && c.paho.IsConnected()
}

// SetOnConnect sets the callback run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.hooks.onConnect = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets the callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.hooks.onDisconnect = fn
	c.hooksMu.Unlock()
}

// SetLogger sets where handler failures are reported.
func (c *Client) SetLogger(logger Logger) {
	c.hooksMu.Lock()
	c.hooks.logger = logger
	c.hooksMu.Unlock()
}

func (c *Client) currentHooks() hooks {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.hooks
}

// deliver adapts a MessageHandler to paho, logging errors and recovering
// panics so one bad payload cannot kill the paho router.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				if log := c.currentHooks().logger; log != nil {
					log.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
				}
			}
		}()
		if err := handler(topic, msg.Payload()); err != nil {
			if log := c.currentHooks().logger; log != nil {
				log.Warn("MQTT handler returned error", "topic", topic, "error", err)
			}
		}
	}
}
