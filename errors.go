package taskbus

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("taskbus: no store configured")
	ErrStoreClosed = errors.New("taskbus: store closed")

	// Not found errors.
	ErrJobNotFound   = errors.New("taskbus: job not found")
	ErrEventNotFound = errors.New("taskbus: event not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("taskbus: job already exists")

	// State errors.
	ErrInvalidState = errors.New("taskbus: invalid state transition")
)
