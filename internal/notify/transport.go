package notify

import "context"

// Message is a native notification.
type Message struct {
	Title    string
	Body     string
	Severity string
	Data     map[string]string
}

// TransportResult reports one transport's attempt at a set of tokens.
type TransportResult struct {
	Targeted int
	Sent     int
	// Invalid lists tokens the provider reported as permanently gone.
	Invalid []string
	Err     error
}

// Transport delivers native notifications through one provider.
type Transport interface {
	Name() TransportKind
	Send(ctx context.Context, tokens []string, msg Message) (TransportResult, error)
}
