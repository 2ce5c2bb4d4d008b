package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_ZeroValueIsUninitialized(t *testing.T) {
	var l Lifecycle

	assert.Equal(t, StateUninitialized, l.State())
	info := l.Info()
	assert.Equal(t, StateUninitialized, info.State)
	assert.Nil(t, info.LoadedAt)
	assert.Empty(t, info.Error)
}

func TestLifecycle_EnsureLoadsOnce(t *testing.T) {
	var l Lifecycle
	var calls atomic.Int32

	load := func(context.Context) error {
		calls.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Ensure(context.Background(), "m", load))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateReady, l.State())
	assert.NotNil(t, l.Info().LoadedAt)
}

func TestLifecycle_FailureAllowsRetry(t *testing.T) {
	var l Lifecycle
	boom := errors.New("out of memory")

	err := l.Ensure(context.Background(), "m", func(context.Context) error { return boom })
	require.Error(t, err)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "m", initErr.Model)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.Equal(t, StateFailed, l.State())
	assert.Equal(t, "out of memory", l.Info().Error)

	require.NoError(t, l.Ensure(context.Background(), "m", func(context.Context) error { return nil }))
	assert.Equal(t, StateReady, l.State())
	assert.Empty(t, l.Info().Error)
}

func TestLifecycle_CanceledContext(t *testing.T) {
	var l Lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := l.Ensure(ctx, "m", func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, StateUninitialized, l.State())
}

func TestLifecycle_RetireBlocksReload(t *testing.T) {
	var l Lifecycle
	require.NoError(t, l.Ensure(context.Background(), "m", func(context.Context) error { return nil }))

	l.Retire()
	assert.Equal(t, StateClosed, l.State())
	assert.Nil(t, l.Info().LoadedAt)

	called := false
	err := l.Ensure(context.Background(), "m", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.False(t, called)
}

func TestLifecycle_RetireNeverLoaded(t *testing.T) {
	var l Lifecycle
	l.Retire()

	err := l.Ensure(context.Background(), "m", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateClosed, l.State())
}

func TestLifecycle_FailureHookRetiresBeforeWaiters(t *testing.T) {
	var l Lifecycle
	var hookCalls atomic.Int32
	l.OnFailure(func(error) bool {
		hookCalls.Add(1)
		return true
	})

	var loads atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	load := func(context.Context) error {
		if loads.Add(1) == 1 {
			close(started)
			<-release
			return errors.New("corrupt model")
		}
		return nil
	}

	first := make(chan error, 1)
	go func() { first <- l.Ensure(context.Background(), "m", load) }()
	<-started

	waiter := make(chan error, 1)
	go func() { waiter <- l.Ensure(context.Background(), "m", load) }()

	close(release)

	assert.ErrorContains(t, <-first, "corrupt model")
	assert.ErrorIs(t, <-waiter, ErrClosed)
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, StateClosed, l.State())
	assert.Equal(t, "corrupt model", l.Info().Error)
}

func TestLifecycle_FailureHookDeclines(t *testing.T) {
	var l Lifecycle
	l.OnFailure(func(error) bool { return false })

	require.Error(t, l.Ensure(context.Background(), "m", func(context.Context) error { return errors.New("boom") }))
	assert.Equal(t, StateFailed, l.State())

	require.NoError(t, l.Ensure(context.Background(), "m", func(context.Context) error { return nil }))
	assert.Equal(t, StateReady, l.State())
}

func TestLifecycle_PanicIsFailure(t *testing.T) {
	var l Lifecycle

	err := l.Ensure(context.Background(), "m", func(context.Context) error { panic("tensor shape") })
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorContains(t, err, "tensor shape")
	assert.Equal(t, StateFailed, l.State())
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("bad tensor")
	err := error(&ProcessingError{Model: "rembg", Err: cause})

	assert.ErrorIs(t, err, ErrProcessing)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInitialization)
	assert.Contains(t, err.Error(), "rembg")
}
