// Package monitor periodically reports model readiness and process memory.
package monitor

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/ekisa-team/clearbg/internal/backend"
	"github.com/ekisa-team/clearbg/internal/model"
)

// StatusSource provides model statuses.
type StatusSource interface {
	Statuses() []model.Status
}

// Observer receives every status snapshot.
type Observer func(statuses []model.Status)

// Snapshot is one report.
type Snapshot struct {
	Statuses  []model.Status
	HeapAlloc uint64
	Sys       uint64
	NumGC     uint32
	Ready     int
}

// Reporter runs a readiness report on a cron schedule.
type Reporter struct {
	source    StatusSource
	cron      *cron.Cron
	readMem   func(*runtime.MemStats)
	observers []Observer
	last      Snapshot
	mu        sync.RWMutex
}

// NewReporter creates a reporter for schedule, a cron spec such as "@every 1m".
func NewReporter(source StatusSource, schedule string, observers ...Observer) (*Reporter, error) {
	r := &Reporter{
		source:    source,
		cron:      cron.New(),
		readMem:   runtime.ReadMemStats,
		observers: observers,
	}

	if _, err := r.cron.AddFunc(schedule, func() { r.Report() }); err != nil {
		return nil, fmt.Errorf("monitor: invalid schedule %q: %w", schedule, err)
	}

	return r, nil
}

// Start runs the schedule in the background.
func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop stops the schedule and waits for a running report.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report collects a snapshot, logs it and notifies observers.
func (r *Reporter) Report() Snapshot {
	var mem runtime.MemStats
	r.readMem(&mem)

	statuses := r.source.Statuses()
	snap := Snapshot{
		Statuses:  statuses,
		HeapAlloc: mem.HeapAlloc,
		Sys:       mem.Sys,
		NumGC:     mem.NumGC,
	}

	states := make(map[string]string, len(statuses))
	for _, st := range statuses {
		states[st.Name] = string(st.State)
		if st.State == backend.StateReady {
			snap.Ready++
		}
	}

	slog.Info("Model status",
		"ready", snap.Ready,
		"total", len(statuses),
		"states", states,
		"heap_alloc", humanize.Bytes(snap.HeapAlloc),
		"sys", humanize.Bytes(snap.Sys),
		"num_gc", snap.NumGC,
	)

	r.mu.Lock()
	r.last = snap
	r.mu.Unlock()

	for _, obs := range r.observers {
		obs(statuses)
	}

	return snap
}

// Last returns the most recent snapshot.
func (r *Reporter) Last() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.last
}
