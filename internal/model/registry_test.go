package model

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/clearbg/internal/backend"
)

func newTestRegistry(names ...string) (*Registry, map[string]*counting) {
	r := NewRegistry(WithReclaim(func() {}))
	ctors := make(map[string]*counting, len(names))
	for _, name := range names {
		c := &counting{name: name}
		ctors[name] = c
		r.Register(name, c.ctor)
	}
	return r, ctors
}

func TestRegistry_NamesInRegistrationOrder(t *testing.T) {
	r, _ := newTestRegistry("a", "b")

	assert.Equal(t, []string{"a", "b"}, r.Names())

	_, err := r.Get("c")
	require.Error(t, err)

	var unknown *UnknownModelError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "c", unknown.Name)
	assert.Equal(t, []string{"a", "b"}, unknown.Available)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_NamesReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry("a", "b")

	names := r.Names()
	names[0] = "mutated"

	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_DuplicateRegisterOverwritesInPlace(t *testing.T) {
	r, _ := newTestRegistry("a", "b")

	replacement := &counting{name: "a"}
	r.Register("a", replacement.ctor)

	assert.Equal(t, []string{"a", "b"}, r.Names())
	_, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), replacement.calls.Load())
}

func TestRegistry_GetReturnsSameInstance(t *testing.T) {
	r, ctors := newTestRegistry("a")

	first, err := r.Get("a")
	require.NoError(t, err)
	second, err := r.Get("a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), ctors["a"].calls.Load())
}

func TestRegistry_ConcurrentGetConstructsOnce(t *testing.T) {
	r, ctors := newTestRegistry("a", "b")

	var wg sync.WaitGroup
	results := make([]backend.Remover, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "a"
			if i%2 == 1 {
				name = "b"
			}
			inst, err := r.Get(name)
			assert.NoError(t, err)
			results[i] = inst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ctors["a"].calls.Load())
	assert.Equal(t, int32(1), ctors["b"].calls.Load())
	for i := 2; i < len(results); i++ {
		assert.Same(t, results[i%2], results[i])
	}
}

func TestRegistry_ConstructorErrorIsInitializationError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func() (backend.Remover, error) {
		return nil, errors.New("missing shared library")
	})

	_, err := r.Get("broken")
	assert.ErrorIs(t, err, backend.ErrInitialization)

	_, ok := r.Lookup("broken")
	assert.False(t, ok)
}

func TestRegistry_LookupDoesNotConstruct(t *testing.T) {
	r, ctors := newTestRegistry("a")

	_, ok := r.Lookup("a")
	assert.False(t, ok)
	assert.Zero(t, ctors["a"].calls.Load())
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("z"))
}

func TestRegistry_RetryAfterFailedInitialization(t *testing.T) {
	r := NewRegistry(WithReclaim(func() {}))
	c := &counting{name: "a", failures: 1}
	r.Register("a", c.ctor)

	err := r.Initialize(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrInitialization)

	// The failed instance was evicted and closed.
	_, ok := r.Lookup("a")
	assert.False(t, ok)
	assert.True(t, c.last.Load().closed.Load())

	// The next access constructs fresh and succeeds.
	c.failures = 0
	require.NoError(t, r.Initialize(context.Background(), "a"))
	assert.Equal(t, int32(2), c.calls.Load())

	inst, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, backend.StateReady, inst.State())
}

func TestRegistry_LazyProcessingRetriesInitialization(t *testing.T) {
	r := NewRegistry()
	c := &counting{name: "a", failures: 1}
	r.Register("a", c.ctor)

	inst, err := r.Get("a")
	require.NoError(t, err)

	src := image.NewRGBA(image.Rect(0, 0, 7, 5))
	_, err = inst.RemoveBackground(context.Background(), src)
	require.Error(t, err)

	// The failed instance retired itself and left the registry.
	assert.Equal(t, backend.StateClosed, inst.State())
	_, ok := r.Lookup("a")
	assert.False(t, ok)

	c.failures = 0
	next, err := r.Get("a")
	require.NoError(t, err)
	assert.NotSame(t, inst, next)

	out, err := next.RemoveBackground(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds().Size(), out.Bounds().Size())
	assert.Equal(t, backend.StateReady, next.State())
}

func TestRegistry_FailedWarmupCannotBeRevivedByWaitingRequest(t *testing.T) {
	r := NewRegistry(WithReclaim(func() {}))

	var loads, live, built atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	r.Register("a", func() (backend.Remover, error) {
		return &blockingRemover{
			started: started,
			release: release,
			loads:   &loads,
			live:    &live,
			first:   built.Add(1) == 1,
		}, nil
	})

	held, err := r.Get("a")
	require.NoError(t, err)

	warmup := make(chan error, 1)
	go func() { warmup <- r.Initialize(context.Background(), "a") }()
	<-started

	// A request that already holds the instance queues behind the failing load.
	request := make(chan error, 1)
	go func() {
		_, err := held.RemoveBackground(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
		request <- err
	}()

	close(release)

	assert.ErrorIs(t, <-warmup, backend.ErrInitialization)
	assert.ErrorIs(t, <-request, backend.ErrClosed)

	assert.Equal(t, backend.StateClosed, held.State())
	assert.True(t, held.(*blockingRemover).closed.Load())
	_, ok := r.Lookup("a")
	assert.False(t, ok)

	next, err := r.Get("a")
	require.NoError(t, err)
	assert.NotSame(t, held, next)
	require.NoError(t, next.Initialize(context.Background()))

	// Exactly one model is loaded, and it is the registered one.
	assert.Equal(t, int32(1), live.Load())
	assert.Equal(t, int32(2), loads.Load())
	current, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Same(t, next, current)
}

func TestRegistry_InitializeAllIsolatesFailures(t *testing.T) {
	var reclaims int
	r := NewRegistry(WithReclaim(func() { reclaims++ }))
	good := &counting{name: "good"}
	bad := &counting{name: "bad", failures: 5}
	r.Register("bad", bad.ctor)
	r.Register("good", good.ctor)

	ready := r.InitializeAll(context.Background())

	assert.Equal(t, 1, ready)
	assert.Equal(t, 2, reclaims)

	_, ok := r.Lookup("bad")
	assert.False(t, ok)

	inst, ok := r.Lookup("good")
	require.True(t, ok)
	assert.Equal(t, backend.StateReady, inst.State())
}

func TestRegistry_InitializeAllCancelled(t *testing.T) {
	r, ctors := newTestRegistry("a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Zero(t, r.InitializeAll(ctx))
	assert.Zero(t, ctors["a"].calls.Load())
}

func TestRegistry_EvictIsIdentityChecked(t *testing.T) {
	r, _ := newTestRegistry("a")

	inst, err := r.Get("a")
	require.NoError(t, err)

	assert.False(t, r.Evict("a", &fakeRemover{name: "a"}))
	_, ok := r.Lookup("a")
	assert.True(t, ok)

	assert.True(t, r.Evict("a", inst))
	assert.False(t, r.Evict("a", inst))
}

func TestRegistry_Statuses(t *testing.T) {
	r, _ := newTestRegistry("a", "b")
	require.NoError(t, r.Initialize(context.Background(), "b"))

	statuses := r.Statuses()
	require.Len(t, statuses, 2)

	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, backend.StateUninitialized, statuses[0].State)
	assert.Nil(t, statuses[0].LoadedAt)

	assert.Equal(t, "b", statuses[1].Name)
	assert.Equal(t, backend.StateReady, statuses[1].State)
	assert.NotNil(t, statuses[1].LoadedAt)
}

func TestRegistry_StatusesWithoutInfo(t *testing.T) {
	m := &mockRemover{}
	m.On("State").Return(backend.StateInitializing)

	r := NewRegistry()
	r.Register("mocked", func() (backend.Remover, error) { return m, nil })
	_, err := r.Get("mocked")
	require.NoError(t, err)

	statuses := r.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, backend.StateInitializing, statuses[0].State)
	m.AssertExpectations(t)
}

func TestRegistry_InitializeWrapsPlainErrors(t *testing.T) {
	m := &mockRemover{}
	m.On("Initialize", mock.Anything).Return(errors.New("boom"))
	m.On("Close").Return(nil)

	r := NewRegistry()
	r.Register("mocked", func() (backend.Remover, error) { return m, nil })

	err := r.Initialize(context.Background(), "mocked")
	var initErr *backend.InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "mocked", initErr.Model)
	m.AssertExpectations(t)
}

func TestRegistry_Close(t *testing.T) {
	r, ctors := newTestRegistry("a", "b")
	require.NoError(t, r.Initialize(context.Background(), "a"))

	failing := &mockRemover{}
	failing.On("Close").Return(errors.New("sidecar did not stop"))
	r.Register("c", func() (backend.Remover, error) { return failing, nil })
	_, err := r.Get("c")
	require.NoError(t, err)

	err = r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close c")
	assert.True(t, ctors["a"].last.Load().closed.Load())

	_, ok := r.Lookup("a")
	assert.False(t, ok)
	failing.AssertExpectations(t)
}
