package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/ekisa-team/clearbg/internal/backend"
	"github.com/ekisa-team/clearbg/internal/model"
)

// ErrProcessingTimeout is returned when inference does not finish within the processing timeout.
var ErrProcessingTimeout = errors.New("processing timed out")

// Result is the outcome of one background removal.
type Result struct {
	Image   *image.NRGBA
	Model   string
	Elapsed time.Duration
}

// Remover dispatches background removal requests to registry models.
type Remover struct {
	models  *model.Registry
	timeout time.Duration
}

// NewRemover creates a new Remover. A zero timeout disables the limit.
func NewRemover(models *model.Registry, timeout time.Duration) *Remover {
	return &Remover{
		models:  models,
		timeout: timeout,
	}
}

// Models returns the valid model selectors.
func (s *Remover) Models() []string {
	return s.models.Names()
}

// Statuses returns the readiness of every model.
func (s *Remover) Statuses() []model.Status {
	return s.models.Statuses()
}

// Remove runs img through the named model. Inference runs on its own goroutine so that
// a stuck backend releases the caller after the timeout. A request that lands on an
// instance retired while it waited is retried once on a fresh instance.
func (s *Remover) Remove(ctx context.Context, name string, img image.Image) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.remove(ctx, name, img)
	if errors.Is(err, backend.ErrClosed) {
		slog.Debug("Model instance retired during request, retrying", "model", name)
		res, err = s.remove(ctx, name, img)
	}

	return res, err
}

func (s *Remover) remove(ctx context.Context, name string, img image.Image) (*Result, error) {
	m, err := s.models.Get(name)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		img *image.NRGBA
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &backend.ProcessingError{Model: name, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()

		out, err := m.RemoveBackground(ctx, img)
		done <- outcome{img: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, s.contextError(ctx, name)
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, s.contextError(ctx, name)
			}

			var initErr *backend.InitializationError
			if errors.As(res.err, &initErr) {
				switch m.State() {
				case backend.StateFailed, backend.StateClosed:
					s.models.Evict(name, m)
				}
			}
			return nil, res.err
		}

		elapsed := time.Since(start)
		slog.Info("Background removed", "model", name, "elapsed", elapsed)
		return &Result{Image: res.img, Model: name, Elapsed: elapsed}, nil
	}
}

func (s *Remover) contextError(ctx context.Context, name string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.Warn("Background removal timed out", "model", name, "timeout", s.timeout)
		return fmt.Errorf("%w after %v", ErrProcessingTimeout, s.timeout)
	}
	return ctx.Err()
}
