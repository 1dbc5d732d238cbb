package alert

import "errors"

// Domain errors for the alert package.
var (
	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("alert: invalid rule")

	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("alert: rule not found")
)
