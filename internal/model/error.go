package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions for the model package.
var (
	ErrModelNotFound = errors.New("model not found in registry")
)

// UnknownModelError is returned when a model name was never registered.
type UnknownModelError struct {
	Name      string
	Available []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q, available models: %s", e.Name, strings.Join(e.Available, ", "))
}

// Is makes errors.Is(err, ErrModelNotFound) match.
func (e *UnknownModelError) Is(target error) bool {
	return target == ErrModelNotFound
}
