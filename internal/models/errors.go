package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrJobNotFound indicates no job exists with the requested ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished indicates the job already reached a terminal state.
	ErrJobFinished = errors.New("job already finished")

	// ErrLeaseLost indicates the worker's lease was revoked (stall requeue or cancel)
	// before it could record an outcome.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrSourceIDRequired indicates a required source ID field is empty.
	ErrSourceIDRequired = errors.New("source_id is required")

	// ErrOutputFormatRequired indicates a required output format field is empty.
	ErrOutputFormatRequired = errors.New("output_format is required")
)
