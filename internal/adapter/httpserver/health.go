package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type probe struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// HealthHandler probes the database, the session store and the heap. Any
// failing probe turns the whole response 503 with per-probe detail so the
// load balancer and a human reading it agree on what broke.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make([]probe, 0, 3)
		if s.DB != nil {
			checks = append(checks, runProbe("database", s.DB.HealthCheck(ctx)))
		}
		if s.KV != nil {
			checks = append(checks, runProbe("redis", s.KV.Ping(ctx)))
		}
		checks = append(checks, s.heapProbe())

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status, label := http.StatusOK, "ok"
		if !ok {
			status, label = http.StatusServiceUnavailable, "degraded"
		}
		writeJSON(w, status, map[string]any{"status": label, "checks": checks})
	}
}

func runProbe(name string, err error) probe {
	if err != nil {
		return probe{Name: name, OK: false, Details: err.Error()}
	}
	return probe{Name: name, OK: true}
}

// heapProbe fails once the heap crosses the same refuse threshold the
// worker's memory governor uses, so the balancer drains traffic before the
// process starts refusing work.
func (s *Server) heapProbe() probe {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	limit := s.Cfg.MemLimitBytes
	if limit == 0 {
		return probe{Name: "heap", OK: true}
	}
	refuse := s.Cfg.MemRefusePercent
	if refuse <= 0 {
		refuse = 90
	}
	pct := float64(ms.HeapAlloc) / float64(limit) * 100
	p := probe{
		Name:    "heap",
		OK:      pct < float64(refuse),
		Details: fmt.Sprintf("%.1f%% of %d MB", pct, limit>>20),
	}
	return p
}

// MetricsHandler is the JSON runtime snapshot the ops dashboard polls. It
// is intentionally cheap: one MemStats read, one DB ping, one Redis ping
// and the queue depths.
func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		out := map[string]any{
			"version":        s.Version,
			"uptime_seconds": int64(time.Since(s.StartedAt).Seconds()),
			"memory": map[string]any{
				"heap_alloc_mb": ms.HeapAlloc >> 20,
				"heap_sys_mb":   ms.HeapSys >> 20,
				"heap_objects":  ms.HeapObjects,
				"num_gc":        ms.NumGC,
				"goroutines":    runtime.NumGoroutine(),
			},
			"cpu": map[string]any{
				"cores":  runtime.NumCPU(),
				"load_1": load1(),
			},
		}

		if s.DB != nil {
			dbStart := time.Now()
			err := s.DB.HealthCheck(ctx)
			pool := s.DB.PoolStatus()
			out["database"] = map[string]any{
				"ok":          err == nil,
				"response_ms": time.Since(dbStart).Milliseconds(),
				"pool": map[string]any{
					"max":      pool.Max,
					"acquired": pool.Acquired,
					"idle":     pool.Idle,
					"waiting":  pool.Waiting,
				},
			}
		}
		if s.KV != nil {
			redisStart := time.Now()
			err := s.KV.Ping(ctx)
			out["redis"] = map[string]any{
				"ok":          err == nil,
				"response_ms": time.Since(redisStart).Milliseconds(),
			}
		}
		if s.Queue != nil {
			if stats, err := s.Queue.Stats(ctx); err == nil {
				out["queues"] = stats
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// load1 reads the 1-minute load average; zero when the file is absent
// (non-Linux hosts, containers without /proc).
func load1() float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

// QueueStatsHandler reports per-queue depth plus a masked peek at what is
// currently running.
func (s *Server) QueueStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		stats, err := s.Queue.Stats(ctx)
		if err != nil {
			writeError(w, r, fmt.Errorf("queue stats: %w", err), nil)
			return
		}
		active := map[string]any{}
		for _, st := range stats {
			if st.Active == 0 {
				continue
			}
			tasks, err := s.Queue.ActiveTasks(ctx, st.Queue, 5)
			if err != nil {
				continue
			}
			active[st.Queue] = tasks
		}
		writeJSON(w, http.StatusOK, map[string]any{"queues": stats, "active": active})
	}
}

// JobsStatsHandler is the public catalog snapshot: how many listings are
// live, where they came from, and today's application throughput.
func (s *Server) JobsStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		cat, err := s.Listings.Stats(ctx)
		if err != nil {
			writeError(w, r, fmt.Errorf("catalog stats: %w", err), nil)
			return
		}
		out := map[string]any{
			"jobs": map[string]any{
				"total":       cat.TotalJobs,
				"active":      cat.ActiveJobs,
				"remote":      cat.RemoteJobs,
				"by_category": cat.ByCategory,
				"by_source":   cat.BySource,
			},
		}
		if s.Apps != nil {
			apps, err := s.Apps.StatsToday(ctx)
			if err != nil {
				writeError(w, r, fmt.Errorf("application stats: %w", err), nil)
				return
			}
			out["applications_today"] = apps
		}
		writeJSON(w, http.StatusOK, out)
	}
}
