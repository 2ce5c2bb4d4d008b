package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ekisa-team/clearbg/internal/backend"
)

// Status is a readiness snapshot of one registered model.
type Status struct {
	LoadedAt *time.Time    `json:"loaded_at,omitempty"`
	Name     string        `json:"name"`
	State    backend.State `json:"state"`
	Error    string        `json:"error,omitempty"`
}

type infoer interface {
	Info() backend.Info
}

// Registry owns the registered constructors and the live backend instances.
// At most one instance exists per name.
type Registry struct {
	constructors map[string]backend.Constructor
	instances    map[string]backend.Remover
	reclaim      func()
	group        singleflight.Group
	names        []string
	mu           sync.RWMutex
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithReclaim replaces the memory reclamation run after each model in InitializeAll.
func WithReclaim(fn func()) RegistryOption {
	return func(r *Registry) {
		r.reclaim = fn
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		constructors: make(map[string]backend.Constructor),
		instances:    make(map[string]backend.Remover),
		reclaim:      debug.FreeOSMemory,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register binds name to a constructor. Registering a name twice replaces the
// constructor and keeps its original position.
func (r *Registry) Register(name string, ctor backend.Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; !exists {
		r.names = append(r.names, name)
	}
	r.constructors[name] = ctor
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.names)
}

// Has reports whether name was registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.constructors[name]
	return ok
}

// Lookup returns the live instance for name without constructing one.
func (r *Registry) Lookup(name string) (backend.Remover, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[name]
	return inst, ok
}

// Get returns the instance for name, constructing it on first access. Concurrent
// first access for the same name runs the constructor once.
func (r *Registry) Get(name string) (backend.Remover, error) {
	r.mu.RLock()
	inst, ok := r.instances[name]
	ctor, registered := r.constructors[name]
	r.mu.RUnlock()

	if ok {
		return inst, nil
	}
	if !registered {
		return nil, &UnknownModelError{Name: name, Available: r.Names()}
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.instances[name]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created, err := ctor()
		if err != nil {
			return nil, &backend.InitializationError{Model: name, Err: fmt.Errorf("construct: %w", err)}
		}

		// A failed load evicts while initialization is still serialized, so a
		// request waiting on the same instance cannot revive it after eviction.
		if n, ok := created.(backend.FailureNotifier); ok {
			n.OnFailure(func(error) bool {
				return r.Evict(name, created)
			})
		}

		r.mu.Lock()
		r.instances[name] = created
		r.mu.Unlock()

		slog.Debug("Model instance created", "model", name)
		return created, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(backend.Remover), nil
}

// Initialize constructs and initializes one model. On failure the instance is
// evicted and closed so that the next access starts fresh. Instances that were
// already retired by their failure hook are closed as well.
func (r *Registry) Initialize(ctx context.Context, name string) error {
	inst, err := r.Get(name)
	if err != nil {
		return err
	}

	if err := inst.Initialize(ctx); err != nil {
		evicted := r.Evict(name, inst)
		if evicted || inst.State() == backend.StateClosed {
			if cerr := inst.Close(); cerr != nil {
				slog.Warn("Failed to close evicted model", "model", name, "error", cerr)
			}
		}

		var initErr *backend.InitializationError
		if errors.As(err, &initErr) {
			return err
		}
		return &backend.InitializationError{Model: name, Err: err}
	}

	return nil
}

// InitializeAll initializes every registered model one at a time in registration
// order, reclaiming memory after each. Failures are logged and never returned.
// It returns the number of models that ended up ready.
func (r *Registry) InitializeAll(ctx context.Context) int {
	ready := 0

	for _, name := range r.Names() {
		if ctx.Err() != nil {
			slog.Warn("Model initialization aborted", "model", name, "error", ctx.Err())
			break
		}

		if err := r.Initialize(ctx, name); err != nil {
			slog.Error("Failed to initialize model", "model", name, "error", err)
		} else {
			ready++
		}

		r.reclaim()
	}

	slog.Info("Model initialization finished", "ready", ready, "total", len(r.Names()))
	return ready
}

// Evict removes inst from the instance map if it is still the instance stored
// under name. It reports whether an instance was removed.
func (r *Registry) Evict(name string, inst backend.Remover) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.instances[name]
	if !ok || current != inst {
		return false
	}

	delete(r.instances, name)
	slog.Info("Model instance evicted", "model", name)
	return true
}

// Statuses returns one status per registered name in registration order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	names := slices.Clone(r.names)
	instances := make(map[string]backend.Remover, len(r.instances))
	for name, inst := range r.instances {
		instances[name] = inst
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		st := Status{Name: name, State: backend.StateUninitialized}

		if inst, ok := instances[name]; ok {
			if i, ok := inst.(infoer); ok {
				info := i.Info()
				st.State = info.State
				st.LoadedAt = info.LoadedAt
				st.Error = info.Error
			} else {
				st.State = inst.State()
			}
		}

		statuses = append(statuses, st)
	}

	return statuses
}

// Close closes every live instance and empties the instance map.
func (r *Registry) Close() error {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]backend.Remover)
	names := slices.Clone(r.names)
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		inst, ok := instances[name]
		if !ok {
			continue
		}
		if err := inst.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
