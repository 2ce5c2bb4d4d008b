package model

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/ekisa-team/clearbg/internal/config"
)

// WarmupReport summarizes a finished warmup.
type WarmupReport struct {
	Mode    string   `json:"mode"`
	Planned []string `json:"planned"`
	Ready   []string `json:"ready"`
	Failed  []string `json:"failed"`
}

// Manager runs the staggered background warmup of registered models. Models are
// initialized one at a time with a settle delay before the first and a pause
// between consecutive ones.
type Manager struct {
	registry *Registry
	done     chan struct{}
	reclaim  func()
	sleep    func(ctx context.Context, d time.Duration) error
	report   WarmupReport
	cfg      config.WarmupConfig
	once     sync.Once
	mu       sync.RWMutex
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerReclaim replaces the memory reclamation run after each model.
func WithManagerReclaim(fn func()) ManagerOption {
	return func(m *Manager) {
		m.reclaim = fn
	}
}

// NewManager creates a Manager for registry. Nothing runs until Start.
func NewManager(registry *Registry, cfg config.WarmupConfig, opts ...ManagerOption) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = config.WarmupAll
	}

	m := &Manager{
		registry: registry,
		cfg:      cfg,
		done:     make(chan struct{}),
		reclaim:  debug.FreeOSMemory,
		sleep:    sleepCtx,
		report:   WarmupReport{Mode: cfg.Mode},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start launches the warmup goroutine. Only the first call has an effect.
// Cancelling ctx aborts the remaining plan.
func (m *Manager) Start(ctx context.Context) {
	m.once.Do(func() {
		go m.run(ctx)
	})
}

// Done is closed when the warmup finished or was aborted.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Report returns the current warmup progress.
func (m *Manager) Report() WarmupReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return WarmupReport{
		Mode:    m.report.Mode,
		Planned: slices.Clone(m.report.Planned),
		Ready:   slices.Clone(m.report.Ready),
		Failed:  slices.Clone(m.report.Failed),
	}
}

// Plan returns the names the warmup will initialize, in order.
func (m *Manager) Plan() []string {
	names := m.registry.Names()

	switch m.cfg.Mode {
	case config.WarmupNone:
		return nil
	case config.WarmupAll:
		plan := make([]string, 0, len(names))
		for _, name := range m.cfg.Order {
			if slices.Contains(names, name) && !slices.Contains(plan, name) {
				plan = append(plan, name)
			}
		}
		for _, name := range names {
			if !slices.Contains(plan, name) {
				plan = append(plan, name)
			}
		}
		return plan
	default:
		if !slices.Contains(names, m.cfg.Mode) {
			return nil
		}
		return []string{m.cfg.Mode}
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	plan := m.Plan()
	m.mu.Lock()
	m.report.Planned = plan
	m.mu.Unlock()

	switch {
	case m.cfg.Mode == config.WarmupNone:
		slog.Info("Model warmup disabled, models load on first request")
		return
	case len(plan) == 0:
		slog.Warn("No models to warm up", "mode", m.cfg.Mode, "available", m.registry.Names())
		return
	}

	slog.Info("Model warmup scheduled", "mode", m.cfg.Mode, "plan", plan, "settle_delay", m.cfg.SettleDelay)

	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		slog.Warn("Model warmup cancelled", "error", err)
		return
	}

	start := time.Now()
	for i, name := range plan {
		if ctx.Err() != nil {
			slog.Warn("Model warmup cancelled", "error", ctx.Err(), "remaining", plan[i:])
			return
		}

		err := m.initialize(ctx, name)
		m.record(name, err)
		m.reclaim()

		if i < len(plan)-1 {
			if err := m.sleep(ctx, m.cfg.InterModelDelay); err != nil {
				slog.Warn("Model warmup cancelled", "error", err, "remaining", plan[i+1:])
				return
			}
		}
	}

	report := m.Report()
	slog.Info("Model warmup finished",
		"ready", report.Ready,
		"failed", report.Failed,
		"elapsed", time.Since(start),
	)
}

func (m *Manager) initialize(ctx context.Context, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during initialization: %v", r)
			if inst, ok := m.registry.Lookup(name); ok {
				m.registry.Evict(name, inst)
			}
		}
	}()

	slog.Info("Warming up model", "model", name)
	return m.registry.Initialize(ctx, name)
}

func (m *Manager) record(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		slog.Error("Model warmup failed, it will load on first request", "model", name, "error", err)
		m.report.Failed = append(m.report.Failed, name)
		return
	}

	slog.Info("Model warmed up", "model", name)
	m.report.Ready = append(m.report.Ready, name)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
