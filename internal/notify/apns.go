package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"golang.org/x/sync/errgroup"
)

// apnsPusher is the part of *apns2.Client the transport uses.
type apnsPusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsConfig holds token-based APNs credentials.
type APNsConfig struct {
	KeyPath    string
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
	// Concurrency bounds in-flight requests per Send. Defaults to 8.
	Concurrency int
}

// APNsTransport delivers to iOS devices through APNs.
type APNsTransport struct {
	client      apnsPusher
	topic       string
	concurrency int
}

// NewAPNsTransport loads the .p8 signing key and creates a token client.
func NewAPNsTransport(cfg APNsConfig) (*APNsTransport, error) {
	key, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading APNs auth key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: key,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return newAPNsTransport(client, cfg.BundleID, cfg.Concurrency), nil
}

func newAPNsTransport(client apnsPusher, topic string, concurrency int) *APNsTransport {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &APNsTransport{client: client, topic: topic, concurrency: concurrency}
}

// Name implements Transport.
func (t *APNsTransport) Name() TransportKind { return TransportAPNs }

// Send implements Transport. Each token is pushed individually; tokens APNs
// rejects as unknown or gone are reported in Invalid.
func (t *APNsTransport) Send(ctx context.Context, tokens []string, msg Message) (TransportResult, error) {
	result := TransportResult{Targeted: len(tokens)}
	if len(tokens) == 0 {
		return result, nil
	}

	p := payload.NewPayload().AlertTitle(msg.Title).AlertBody(msg.Body).Sound("default")
	for k, v := range msg.Data {
		p = p.Custom(k, v)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, tok := range tokens {
		tok := tok
		g.Go(func() error {
			resp, err := t.client.PushWithContext(gctx, &apns2.Notification{
				DeviceToken: tok,
				Topic:       t.topic,
				Priority:    apns2.PriorityHigh,
				Payload:     p,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Err = fmt.Errorf("apns push: %w", err)
			case resp.Sent():
				result.Sent++
			case apnsTokenGone(resp):
				result.Invalid = append(result.Invalid, tok)
			default:
				result.Err = fmt.Errorf("apns rejected push: %d %s", resp.StatusCode, resp.Reason)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // per-token errors are collected in result

	return result, nil
}

func apnsTokenGone(resp *apns2.Response) bool {
	if resp.StatusCode == http.StatusGone {
		return true
	}
	switch resp.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return true
	}
	return false
}
