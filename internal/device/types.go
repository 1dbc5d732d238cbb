package device

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultID is the device every installation starts with.
	DefaultID = "default"

	// DefaultName is the name given to the default device when it is re-created.
	DefaultName = "Neko"

	maxNameLength = 100
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Device is one monitored habitat.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizeID trims the ID and maps an empty value to DefaultID.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultID
	}
	return id
}

// Validate checks the ID format and name length.
func (d *Device) Validate() error {
	if !idPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: id %q must be lowercase letters, digits, '-' or '_' (max 64)", ErrInvalidDevice, d.ID)
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return nil
}
