package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smartcat/habitat-core/internal/alert"
)

// WebKeys are the client keys of a browser push subscription.
type WebKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// WebSubscription is a browser push endpoint.
type WebSubscription struct {
	Endpoint  string     `json:"endpoint"`
	Keys      WebKeys    `json:"keys"`
	Language  alert.Lang `json:"language"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Validate checks the subscription and defaults its language.
func (s *WebSubscription) Validate() error {
	var errs []error
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	if !strings.HasPrefix(s.Endpoint, "https://") && !strings.HasPrefix(s.Endpoint, "http://") {
		errs = append(errs, errors.New("endpoint must be an http(s) URL"))
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		errs = append(errs, errors.New("keys.p256dh and keys.auth are required"))
	}
	s.Language = alert.MatchLang(string(s.Language))
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, errors.Join(errs...))
	}
	return nil
}

// Platform is the operating system of a native device.
type Platform string

// Native platforms.
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// TransportKind names the provider a native device is reached through.
type TransportKind string

// Native transports.
const (
	TransportAPNs TransportKind = "apns"
	TransportFCM  TransportKind = "fcm"
)

// NormalizeTransport maps anything other than fcm onto apns.
func NormalizeTransport(s string) TransportKind {
	if strings.EqualFold(strings.TrimSpace(s), string(TransportFCM)) {
		return TransportFCM
	}
	return TransportAPNs
}

// NativeDevice is a phone registered for native push.
type NativeDevice struct {
	Token     string         `json:"token"`
	Platform  Platform       `json:"platform"`
	Transport TransportKind  `json:"transport"`
	Language  alert.Lang     `json:"language"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Validate checks the device and normalises its transport and language.
func (d *NativeDevice) Validate() error {
	var errs []error
	d.Token = strings.TrimSpace(d.Token)
	if d.Token == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if d.Platform != PlatformIOS && d.Platform != PlatformAndroid {
		errs = append(errs, fmt.Errorf("platform %q must be ios or android", d.Platform))
	}
	d.Transport = NormalizeTransport(string(d.Transport))
	d.Language = alert.MatchLang(string(d.Language))
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, errors.Join(errs...))
	}
	return nil
}

// Outcome counts one channel's delivery attempts.
type Outcome struct {
	Targeted int `json:"targeted"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// Summary is the result of delivering one alert.
type Summary struct {
	Web    Outcome `json:"web"`
	Native Outcome `json:"native"`
}

// Channel names a delivery channel in health reports.
type Channel string

// Delivery channels.
const (
	ChannelWeb    Channel = "web"
	ChannelNative Channel = "native"
)

// ChannelHealth is the running delivery record of one channel.
type ChannelHealth struct {
	SuccessCount  int        `json:"successCount"`
	FailureCount  int        `json:"failureCount"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// Health reports which channels are enabled and how they have fared.
type Health struct {
	WebEnabled    bool                      `json:"webEnabled"`
	NativeEnabled bool                      `json:"nativeEnabled"`
	Channels      map[Channel]ChannelHealth `json:"channels"`
}
