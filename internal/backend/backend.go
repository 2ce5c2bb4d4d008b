package backend

import (
	"context"
	"image"
)

// Remover is the contract every background removal backend implements.
type Remover interface {
	// Name returns the model identifier. It is the registry key and the value
	// clients send to select the model.
	Name() string

	// Initialize performs the heavy one-time setup: downloading artifacts,
	// loading weights or starting a sidecar. Failures are *InitializationError.
	Initialize(ctx context.Context) error

	// RemoveBackground returns img with the background made transparent. The
	// result has the same size as img. Implementations initialize lazily when
	// Initialize has not succeeded yet. Failures are *ProcessingError or
	// *InitializationError.
	RemoveBackground(ctx context.Context, img image.Image) (*image.NRGBA, error)

	// State reports the readiness of the backend.
	State() State

	// Close releases engines and stops sidecars.
	Close() error
}

// Constructor builds a new, uninitialized backend instance.
type Constructor func() (Remover, error)
