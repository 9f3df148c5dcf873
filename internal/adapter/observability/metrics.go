package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the broker.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation", "status"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 90},
		},
		[]string{"provider", "operation"},
	)
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Total number of tasks enqueued by queue",
		},
		[]string{"queue"},
	)
	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Number of tasks currently processing by queue",
		},
		[]string{"queue"},
	)
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks completed by queue",
		},
		[]string{"queue"},
	)
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks failed by queue",
		},
		[]string{"queue"},
	)
	MessagesInboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_inbound_total",
			Help: "Inbound WhatsApp webhook events by message type",
		},
		[]string{"type"},
	)
	MessagesOutboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_outbound_total",
			Help: "Outbound WhatsApp sends by kind and status",
		},
		[]string{"kind", "status"},
	)
	EmailsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Outbound SMTP deliveries by transport and status",
		},
		[]string{"transport", "status"},
	)
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment verifications by package and outcome",
		},
		[]string{"package", "status"},
	)
	ApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applications_total",
			Help: "Job applications by terminal status",
		},
		[]string{"status"},
	)
	CVScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cv_score",
			Help:    "Distribution of CV match scores (clamped to [50,95])",
			Buckets: []float64{50, 55, 60, 65, 70, 75, 80, 85, 90, 95},
		},
	)
	CVRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rejected_cvs_total",
			Help: "CVs rejected by validation, by reason",
		},
		[]string{"reason"},
	)
	CircuitBreakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_memory_usage_bytes",
			Help: "Heap in use as sampled by the memory governor",
		},
	)
)

// InitMetrics registers all metric collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksProcessing)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(MessagesInboundTotal)
	prometheus.MustRegister(MessagesOutboundTotal)
	prometheus.MustRegister(EmailsSentTotal)
	prometheus.MustRegister(PaymentsTotal)
	prometheus.MustRegister(ApplicationsTotal)
	prometheus.MustRegister(CVScoreHistogram)
	prometheus.MustRegister(CVRejectedTotal)
	prometheus.MustRegister(CircuitBreakerStateGauge)
	prometheus.MustRegister(MemoryUsageBytes)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueTask(queue string) {
	TasksEnqueuedTotal.WithLabelValues(queue).Inc()
}

func StartTask(queue string) {
	TasksProcessing.WithLabelValues(queue).Inc()
}

func CompleteTask(queue string) {
	TasksProcessing.WithLabelValues(queue).Dec()
	TasksCompletedTotal.WithLabelValues(queue).Inc()
}

func FailTask(queue string) {
	TasksProcessing.WithLabelValues(queue).Dec()
	TasksFailedTotal.WithLabelValues(queue).Inc()
}

// ObserveCVScore records a clamped CV match score.
func ObserveCVScore(score int) {
	if score >= 0 && score <= 100 {
		CVScoreHistogram.Observe(float64(score))
	}
}

// RecordCVRejected counts a validation rejection by failure class.
func RecordCVRejected(reason string) {
	CVRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordEmail(transport string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EmailsSentTotal.WithLabelValues(transport, status).Inc()
}

func RecordPayment(pkg, status string) {
	PaymentsTotal.WithLabelValues(pkg, status).Inc()
}

func RecordApplication(status string) {
	ApplicationsTotal.WithLabelValues(status).Inc()
}

func RecordInbound(msgType string) {
	MessagesInboundTotal.WithLabelValues(msgType).Inc()
}

func RecordOutbound(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	MessagesOutboundTotal.WithLabelValues(kind, status).Inc()
}

// RecordCircuitBreakerStatus exports breaker state transitions.
func RecordCircuitBreakerStatus(name string, state int) {
	CircuitBreakerStateGauge.WithLabelValues(name).Set(float64(state))
}

// SetMemoryUsage publishes the governor's latest heap sample.
func SetMemoryUsage(bytes uint64) {
	MemoryUsageBytes.Set(float64(bytes))
}
