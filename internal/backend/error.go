package backend

import (
	"errors"
	"fmt"
)

// Error definitions for the backend package.
var (
	ErrInitialization = errors.New("model initialization failed")
	ErrProcessing     = errors.New("background removal failed")
	ErrNotReady       = errors.New("model is not ready")
	ErrClosed         = errors.New("model instance is closed")
)

// InitializationError is returned when a backend fails to load or prepare.
type InitializationError struct {
	Err   error
	Model string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize model %s: %v", e.Model, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInitialization) match.
func (e *InitializationError) Is(target error) bool {
	return target == ErrInitialization
}

// ProcessingError is returned when inference fails on a given input.
// It does not affect the readiness of the backend.
type ProcessingError struct {
	Err   error
	Model string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("background removal with model %s failed: %v", e.Model, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProcessing) match.
func (e *ProcessingError) Is(target error) bool {
	return target == ErrProcessing
}
