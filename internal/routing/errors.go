package routing

import "errors"

var (
	// ErrRuleSetUnavailable is returned by a provider when the backing rule
	// store cannot be reached. The engine fails open to deliver.
	ErrRuleSetUnavailable = errors.New("rule set unavailable")

	// ErrInvalidRule is returned when a rule fails write-time validation.
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrInvalidCondition is returned when a rule condition fails
	// write-time validation.
	ErrInvalidCondition = errors.New("invalid rule condition")

	// ErrUnsupportedOperator is returned for an operator outside the
	// routing condition set.
	ErrUnsupportedOperator = errors.New("unsupported condition operator")

	// ErrUnsupportedField is returned for a condition field outside the
	// routing condition set. exists/not_exists belong to folder-rule
	// conditions and are rejected here at save time.
	ErrUnsupportedField = errors.New("unsupported condition field")
)
