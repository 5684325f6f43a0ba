package domain

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("%w: ...").
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConcurrentUpdate  = errors.New("concurrent update detected")
	ErrDuplicate         = errors.New("record already exists")
)
