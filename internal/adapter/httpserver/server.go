// Package httpserver is the broker's HTTP front door: provider webhooks,
// the public recruiter form, the payment landing page and the monitoring
// endpoints operators watch.
//
// Webhook handlers acknowledge first and work on detached contexts; the
// provider retries anything that is not a 2xx and a retry storm helps
// nobody.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	asynqadp "github.com/Ugoplus/smartcvnaija/internal/adapter/queue/asynq"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/repo/postgres"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
)

// dispatchTimeout bounds the detached processing of one webhook event. It
// covers a full search-and-reply round trip including humanized send delays.
const dispatchTimeout = 2 * time.Minute

// Conversation is the slice of the conversation engine the webhooks drive.
type Conversation interface {
	HandleText(ctx domain.Context, msg domain.InboundMessage) error
	HandleDocument(ctx domain.Context, msg domain.InboundMessage) error
	HandleUnsupportedMedia(ctx domain.Context, msg domain.InboundMessage) error
	HandlePaymentCompleted(ctx domain.Context, reference string) error
}

// KV is the session-store slice the HTTP layer needs: webhook dedup marks
// and a health ping.
type KV interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
}

// Database is the health and pool-saturation view of the SQL gateway.
type Database interface {
	HealthCheck(ctx context.Context) error
	PoolStatus() postgres.PoolStatus
}

// QueueInspector reads live queue depth for the monitoring endpoints.
type QueueInspector interface {
	Stats(ctx domain.Context) ([]asynqadp.QueueStat, error)
	ActiveTasks(ctx domain.Context, queue string, n int) ([]asynqadp.TaskSummary, error)
}

// ApplicationStats exposes today's application throughput.
type ApplicationStats interface {
	StatsToday(ctx domain.Context) (postgres.DayStats, error)
}

// RateLimits is the admin view over the per-user action counters.
type RateLimits interface {
	Status(ctx context.Context, identifier string) ([]ratelimiter.Usage, error)
	Reset(ctx context.Context, identifier string, action ratelimiter.Action) error
}

// Server aggregates handler dependencies. Construct it as a literal; every
// handler tolerates the fields it does not use being nil.
type Server struct {
	Cfg      config.Config
	Convo    Conversation
	KV       KV
	DB       Database
	Queue    QueueInspector
	Payments domain.PaymentProvider
	Mailer   domain.Mailer
	Listings domain.ListingRepository
	Apps     ApplicationStats
	Limits   RateLimits
	Catalog  *intent.Catalog

	Version   string
	StartedAt time.Time
	Log       *slog.Logger
}

func (s *Server) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// alert notifies the operator mailbox; failures are logged, never surfaced.
// Run it in a goroutine when the caller should not wait for SMTP.
func (s *Server) alert(subject, body string) {
	if s.Mailer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Mailer.SendAlert(ctx, subject, body); err != nil {
		s.log().Warn("operator alert failed",
			slog.String("subject", subject), slog.Any("error", err))
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// fieldErrors flattens validator output into a field→tag map for the error
// envelope.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			out[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return out
}

// NotFoundHandler keeps unknown routes on the JSON envelope.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, fmt.Errorf("%w: no such route", domain.ErrNotFound), nil)
	}
}
