package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the readiness of a backend instance.
type State string

const (
	// StateUninitialized indicates that Initialize has not run yet.
	StateUninitialized State = "uninitialized"

	// StateInitializing indicates that Initialize is running.
	StateInitializing State = "initializing"

	// StateReady indicates that the backend can serve requests without further setup.
	StateReady State = "ready"

	// StateFailed indicates that the last initialization failed. The next call retries.
	StateFailed State = "failed"

	// StateClosed indicates that the instance was closed or retired. It never loads again.
	StateClosed State = "closed"
)

// Info is a snapshot of a backend lifecycle.
type Info struct {
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
	State    State      `json:"state"`
	Error    string     `json:"error,omitempty"`
}

// FailureNotifier is implemented by backends that embed Lifecycle. The registry uses it
// to evict an instance whose initialization failed before any waiter can retry it.
type FailureNotifier interface {
	OnFailure(fn func(err error) bool)
}

// Lifecycle tracks readiness and serializes initialization of one backend instance.
// The zero value is uninitialized and ready to use. Embed it in backends.
type Lifecycle struct {
	loadedAt time.Time
	lastErr  error
	onFail   func(err error) bool
	state    State
	initMu   sync.Mutex
	mu       sync.RWMutex
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.state == "" {
		return StateUninitialized
	}
	return l.state
}

// Info returns a snapshot of the lifecycle.
func (l *Lifecycle) Info() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info := Info{State: l.state}
	if info.State == "" {
		info.State = StateUninitialized
	}
	if !l.loadedAt.IsZero() {
		loadedAt := l.loadedAt
		info.LoadedAt = &loadedAt
	}
	if l.lastErr != nil {
		info.Error = l.lastErr.Error()
	}

	return info
}

// OnFailure installs fn to run after a failed load while initialization is still
// serialized. When fn returns true the instance is retired instead of left for a retry.
func (l *Lifecycle) OnFailure(fn func(err error) bool) {
	l.initMu.Lock()
	defer l.initMu.Unlock()

	l.onFail = fn
}

// Ensure runs load unless the backend is already ready. Concurrent callers wait for
// the running load and observe its result. A failed load leaves the state failed so
// that the next call retries, unless the failure hook retires the instance.
// A panic in load counts as a failure.
func (l *Lifecycle) Ensure(ctx context.Context, model string, load func(ctx context.Context) error) error {
	if l.State() == StateReady {
		return nil
	}

	l.initMu.Lock()
	defer l.initMu.Unlock()

	switch l.State() {
	case StateReady:
		return nil
	case StateClosed:
		return &InitializationError{Model: model, Err: ErrClosed}
	}

	if err := ctx.Err(); err != nil {
		return &InitializationError{Model: model, Err: err}
	}

	l.set(StateInitializing, nil)
	slog.Info("Initializing model", "model", model)
	start := time.Now()

	if err := runLoad(ctx, load); err != nil {
		l.set(StateFailed, err)
		slog.Error("Failed to initialize model", "model", model, "error", err, "elapsed", time.Since(start))

		if l.onFail != nil && l.onFail(err) {
			l.set(StateClosed, err)
			slog.Info("Model instance retired", "model", model)
		}
		return &InitializationError{Model: model, Err: err}
	}

	l.set(StateReady, nil)
	slog.Info("Model initialized successfully", "model", model, "elapsed", time.Since(start))
	return nil
}

// Retire marks the lifecycle closed. It waits for a running load to finish, and any
// later Ensure fails with ErrClosed. Backends call it from Close.
func (l *Lifecycle) Retire() {
	l.initMu.Lock()
	defer l.initMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = StateClosed
	l.loadedAt = time.Time{}
}

func runLoad(ctx context.Context, load func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return load(ctx)
}

func (l *Lifecycle) set(state State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = state
	l.lastErr = err
	if state == StateReady {
		l.loadedAt = time.Now()
	}
}
