// Package memguard is the worker's memory governor. A sampler watches heap
// use against the process memory limit and flips the governor into a
// refusing state under pressure, so queue handlers can bounce work back to
// asynq with a retryable error instead of running into the OOM killer.
package memguard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

const (
	sampleInterval = 5 * time.Second
	reportInterval = 2 * time.Minute

	warnRatio   = 0.75
	refuseRatio = 0.90

	// hardCapBytes refuses work past 3 GiB regardless of the configured
	// limit.
	hardCapBytes = 3 << 30
)

// Governor samples heap usage and tracks job throughput counters.
type Governor struct {
	limit       uint64
	concurrency int64

	heap     atomic.Uint64
	refusing atomic.Bool
	warned   atomic.Bool

	processed atomic.Int64
	failed    atomic.Int64
	totalMS   atomic.Int64
}

// New builds a governor against limit bytes for a worker running the given
// handler concurrency. A zero limit resolves to the runtime's configured
// memory limit, or the 3 GiB hard cap when none is set.
func New(limit uint64, concurrency int) *Governor {
	if limit == 0 {
		limit = hardCapBytes
		if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 && uint64(l) < limit {
			limit = uint64(l)
		}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Governor{limit: limit, concurrency: int64(concurrency)}
}

// Start runs the sampler and the throughput reporter until ctx is done.
func (g *Governor) Start(ctx context.Context) {
	go g.loop(ctx, sampleInterval, func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		g.observe(ms.HeapAlloc)
	})
	go g.loop(ctx, reportInterval, func() {
		s := g.snapshot()
		slog.Info("worker throughput",
			"processed", s.Processed,
			"failed", s.Failed,
			"avg_ms", s.AvgMS,
			"est_hourly", s.EstHourly,
			"heap_mb", g.heap.Load()>>20)
	})
}

func (g *Governor) loop(ctx context.Context, every time.Duration, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// Admit reports whether a new job may start. The error is retryable: asynq
// redelivers once pressure clears.
func (g *Governor) Admit() error {
	if g.refusing.Load() {
		return fmt.Errorf("%w: heap %dMB against %dMB limit",
			domain.ErrMemoryPressure, g.heap.Load()>>20, g.limit>>20)
	}
	return nil
}

// RecordJob feeds the throughput counters.
func (g *Governor) RecordJob(d time.Duration, failed bool) {
	g.processed.Add(1)
	g.totalMS.Add(d.Milliseconds())
	if failed {
		g.failed.Add(1)
	}
}

// observe is the sampler core: publish the metric, then move between the
// clear, warning and refusing states.
func (g *Governor) observe(heapBytes uint64) {
	g.heap.Store(heapBytes)
	observability.SetMemoryUsage(heapBytes)

	ratio := float64(heapBytes) / float64(g.limit)
	switch {
	case ratio >= refuseRatio || heapBytes >= hardCapBytes:
		if !g.refusing.Swap(true) {
			slog.Error("memory pressure critical, refusing new jobs",
				"heap_mb", heapBytes>>20, "limit_mb", g.limit>>20)
			runtime.GC()
		}
	case ratio >= warnRatio:
		if g.refusing.Swap(false) {
			slog.Info("memory pressure easing", "heap_mb", heapBytes>>20)
		}
		if !g.warned.Swap(true) {
			slog.Warn("memory pressure elevated",
				"heap_mb", heapBytes>>20, "limit_mb", g.limit>>20)
		}
	default:
		if g.refusing.Swap(false) {
			slog.Info("memory pressure cleared", "heap_mb", heapBytes>>20)
		}
		g.warned.Store(false)
	}
}

// throughput is one reporting window's counters.
type throughput struct {
	Processed int64
	Failed    int64
	AvgMS     int64
	EstHourly int64
}

// snapshot drains the counters for one reporting window. Sustainable hourly
// throughput assumes every handler slot stays busy at the window's average
// job duration.
func (g *Governor) snapshot() throughput {
	processed := g.processed.Swap(0)
	failed := g.failed.Swap(0)
	totalMS := g.totalMS.Swap(0)

	s := throughput{Processed: processed, Failed: failed}
	if processed > 0 {
		s.AvgMS = totalMS / processed
	}
	if s.AvgMS > 0 {
		s.EstHourly = g.concurrency * int64(time.Hour/time.Millisecond) / s.AvgMS
	}
	return s
}
