package notify

import "errors"

// Domain errors for notification delivery.
var (
	ErrInvalidTarget     = errors.New("notify: invalid delivery target")
	ErrTargetNotFound    = errors.New("notify: delivery target not found")
	ErrPushNotConfigured = errors.New("notify: no push channel configured")
)
