// Package supervisor implements the watchdog and updater: the two
// long-running workers described in the stick's concurrency model that
// supervise the others. Grounded on the teacher's
// pkg/connection.Manager reconnect/backoff state machine
// (pkg/connection/reconnect.go, pkg/connection/backoff.go) — the same
// "detect a dead worker, apply a schedule, restart it" shape, retargeted
// from "reconnect one network connection" to "restart whichever of the
// stick's workers has died, and periodically retry Circle+ discovery".
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plugwise/stick-go/backoff"
	"github.com/plugwise/stick-go/plog"
)

// Worker is one long-running function the watchdog supervises. Run
// should block until ctx is cancelled or it gives up; any other return
// (including a panic, which the watchdog recovers) is treated as a
// crash and triggers a restart.
type Worker struct {
	Name string
	Run  func(ctx context.Context)

	alive atomic.Bool
}

func (w *Worker) spawn(ctx context.Context, logger plog.Logger) {
	w.alive.Store(true)
	go func() {
		defer w.alive.Store(false)
		defer func() {
			if r := recover(); r != nil {
				logger.Log(plog.Event{
					Layer: plog.LayerWatchdog, Category: plog.CategoryError,
					Error: &plog.ErrorEvent{Layer: plog.LayerWatchdog, Message: "worker panic", Context: w.Name},
				})
			}
		}()
		w.Run(ctx)
	}()
}

// Alive reports whether the worker's goroutine is currently running.
func (w *Worker) Alive() bool { return w.alive.Load() }

// Watchdog restarts dead workers every cycle and drives Circle+
// rediscovery on the schedule in package backoff.
type Watchdog struct {
	interval time.Duration
	logger   plog.Logger

	mu      sync.Mutex
	workers []*Worker

	schedule  *backoff.CirclePlusSchedule
	rediscover func(ctx context.Context) error
	circlePlusUp func() bool
}

// NewWatchdog constructs a Watchdog. rediscover is called on the
// backoff schedule whenever circlePlusUp reports false; either may be
// nil if Circle+ rediscovery isn't wired yet (e.g. before
// InitializeStick has run).
func NewWatchdog(interval time.Duration, logger plog.Logger, circlePlusUp func() bool, rediscover func(ctx context.Context) error) *Watchdog {
	if logger == nil {
		logger = plog.NoopLogger{}
	}
	return &Watchdog{
		interval:     interval,
		logger:       logger,
		schedule:     backoff.NewCirclePlusSchedule(),
		rediscover:   rediscover,
		circlePlusUp: circlePlusUp,
	}
}

// Supervise registers a worker and starts it immediately.
func (w *Watchdog) Supervise(ctx context.Context, worker *Worker) {
	w.mu.Lock()
	w.workers = append(w.workers, worker)
	w.mu.Unlock()
	worker.spawn(ctx, w.logger)
}

// Run ticks every interval, restarting any worker whose goroutine has
// exited and attempting Circle+ rediscovery on the backoff schedule.
// Run blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *Watchdog) cycle(ctx context.Context) {
	w.mu.Lock()
	workers := append([]*Worker(nil), w.workers...)
	w.mu.Unlock()

	for _, worker := range workers {
		if worker.Alive() {
			continue
		}
		w.logger.Log(plog.Event{
			Layer: plog.LayerWatchdog, Category: plog.CategoryStateChange,
			StateChange: &plog.StateChangeEvent{Entity: worker.Name, OldState: "dead", NewState: "restarting"},
		})
		worker.spawn(ctx, w.logger)
	}

	if w.circlePlusUp == nil || w.rediscover == nil {
		return
	}
	if w.circlePlusUp() {
		w.schedule.Reset()
		return
	}
	if w.schedule.Tick() {
		if err := w.rediscover(ctx); err == nil {
			w.schedule.Reset()
		}
	}
}
