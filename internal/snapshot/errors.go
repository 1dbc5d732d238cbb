package snapshot

import "errors"

// Domain errors for the snapshot package.
var (
	// ErrInvalidReading is returned when a reading fails validation.
	ErrInvalidReading = errors.New("snapshot: invalid reading")

	// ErrInvalidSettings is returned when settings fail validation.
	ErrInvalidSettings = errors.New("snapshot: invalid settings")

	// ErrInvalidCalibration is returned when a calibration profile fails validation.
	ErrInvalidCalibration = errors.New("snapshot: invalid calibration")

	// ErrNoSnapshot is returned when a device has no recorded snapshot yet.
	ErrNoSnapshot = errors.New("snapshot: no snapshot recorded")
)
