package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
)

// WebSender delivers one payload to one browser subscription.
type WebSender interface {
	Send(ctx context.Context, sub WebSubscription, payload []byte) error
}

// StatusError is a push service response outside 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

// expired reports whether err means the subscription no longer exists.
func expired(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone
}

// VAPIDConfig holds the application server identity for web push.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	// Subscriber is a mailto: or https: contact for the push service.
	Subscriber string
	TTL        int
}

// VAPIDSender sends web push messages signed with VAPID keys.
type VAPIDSender struct {
	cfg    VAPIDConfig
	client *http.Client
}

// NewVAPIDSender creates a web-push sender. A nil client uses http.DefaultClient.
func NewVAPIDSender(cfg VAPIDConfig, client *http.Client) *VAPIDSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &VAPIDSender{cfg: cfg, client: client}
}

// Send implements WebSender.
func (s *VAPIDSender) Send(ctx context.Context, sub WebSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("sending web push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort detail
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
