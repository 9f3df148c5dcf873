// Package app wires the HTTP surface and the background maintenance jobs.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/Ugoplus/smartcvnaija/internal/adapter/httpserver"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// Provider webhooks, the public recruiter form, the payment landing page and
// the monitoring endpoints all hang off one chi tree.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Provider webhooks. Both acknowledge fast and work detached; neither
	// gets an extra rate limit because the providers retry on anything
	// but a 2xx.
	r.Post("/webhook/ycloud", srv.YCloudWebhookHandler())
	r.Post("/webhook/paystack", srv.PaystackWebhookHandler())

	// Checkout landing page (Paystack callback_url).
	r.Get("/payment/success", srv.PaymentSuccessHandler())

	// Public recruiter form, free tier capped per client address.
	r.Group(func(pr chi.Router) {
		pr.Use(httpserver.RecruiterRateLimit(cfg.IPSalt))
		pr.Post("/api/recruiter/post-job", srv.PostJobHandler())
	})

	// Monitoring. /health is the balancer probe; the /api twins feed the
	// ops dashboard.
	r.Get("/health", srv.HealthHandler())
	r.Get("/api/health", srv.HealthHandler())
	r.Get("/api/metrics", srv.MetricsHandler())
	r.Get("/api/queue/stats", srv.QueueStatsHandler())
	r.Get("/api/jobs/stats", srv.JobsStatsHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	// Admin endpoints stay invisible until credentials are configured.
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(srv.BasicAuth)
		ar.Get("/rate-limits/{phone}", srv.RateLimitStatusHandler())
		ar.Delete("/rate-limits/{phone}", srv.RateLimitResetHandler())
	})

	r.NotFound(httpserver.NotFoundHandler())

	return httpserver.SecurityHeaders(r)
}
