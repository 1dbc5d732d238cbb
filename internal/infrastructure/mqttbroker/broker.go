package mqttbroker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// ErrAlreadyStarted is returned by Start on a running broker.
var ErrAlreadyStarted = errors.New("mqttbroker: already started")

// Config configures the embedded broker.
type Config struct {
	// Address is the TCP listen address, e.g. ":1883".
	Address string
	// Username and Password, when Username is set, are the only accepted
	// credentials. Otherwise every client is allowed.
	Username string
	Password string
}

// Broker is an embedded MQTT broker.
type Broker struct {
	server *mochi.Server
	cfg    Config

	mu      sync.Mutex
	started bool
}

// New creates a broker with a single TCP listener. It does not listen until
// Start is called.
func New(cfg Config, logger *slog.Logger) (*Broker, error) {
	if cfg.Address == "" {
		return nil, errors.New("mqttbroker: address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger.With(slog.String("component", "mqtt-broker")),
	})

	if cfg.Username == "" {
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, fmt.Errorf("mqttbroker: adding auth hook: %w", err)
		}
	} else if err := server.AddHook(new(auth.Hook), credentialRules(cfg)); err != nil {
		return nil, fmt.Errorf("mqttbroker: adding auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("mqttbroker: adding listener: %w", err)
	}

	return &Broker{server: server, cfg: cfg}, nil
}

// credentialRules admits only the configured user, with full topic access.
func credentialRules(cfg Config) *auth.Options {
	return &auth.Options{Ledger: &auth.Ledger{
		Auth: auth.AuthRules{{
			Username: auth.RString(cfg.Username),
			Password: auth.RString(cfg.Password),
			Allow:    true,
		}},
		ACL: auth.ACLRules{{
			Username: auth.RString(cfg.Username),
			Filters:  auth.Filters{"#": auth.ReadWrite},
		}},
	}}
}

// Start begins accepting connections. Listeners run on their own goroutines.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("mqttbroker: serve: %w", err)
	}
	b.started = true
	return nil
}

// Address is the configured listen address.
func (b *Broker) Address() string {
	return b.cfg.Address
}

// Publish delivers a message from the broker itself to matching subscribers.
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	if err := b.server.Publish(topic, payload, retain, qos); err != nil {
		return fmt.Errorf("mqttbroker: publish: %w", err)
	}
	return nil
}

// Clients returns the number of connected clients, the inline client excluded.
func (b *Broker) Clients() int {
	n := 0
	for _, cl := range b.server.Clients.GetAll() {
		if !cl.Net.Inline && !cl.Closed() {
			n++
		}
	}
	return n
}

// Close stops the listeners and disconnects every client.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	if err := b.server.Close(); err != nil {
		return fmt.Errorf("mqttbroker: close: %w", err)
	}
	return nil
}
