package kvcache

import "errors"

// Sentinel errors. Check with errors.Is.
var (
	ErrDisabled         = errors.New("kvcache: disabled in configuration")
	ErrConnectionFailed = errors.New("kvcache: connection failed")

	// ErrMiss is returned when no snapshot is mirrored for a device.
	ErrMiss = errors.New("kvcache: cache miss")
)
