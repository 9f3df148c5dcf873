package httpserver_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/httpserver"
	asynqadp "github.com/Ugoplus/smartcvnaija/internal/adapter/queue/asynq"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/repo/postgres"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
)

const testSecret = "sk_test_webhook"

// testServer bundles a Server literal with the fakes behind it.
type testServer struct {
	srv      *httpserver.Server
	convo    *fakeConvo
	kv       *fakeKV
	mailer   *fakeMailer
	payments *fakePayments
	listings *fakeListings
}

func newTestServer() *testServer {
	ts := &testServer{
		convo:    newFakeConvo(),
		kv:       &fakeKV{},
		mailer:   newFakeMailer(),
		payments: &fakePayments{},
		listings: &fakeListings{},
	}
	ts.srv = &httpserver.Server{
		Cfg:       testConfig(),
		Convo:     ts.convo,
		KV:        ts.kv,
		Mailer:    ts.mailer,
		Payments:  ts.payments,
		Listings:  ts.listings,
		Catalog:   intent.DefaultCatalog(),
		Version:   "test",
		StartedAt: time.Now(),
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return ts
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:            "test",
		PaystackSecretKey: testSecret,
		MemLimitBytes:     8 << 30,
		MemRefusePercent:  90,
		IPSalt:            "test-salt",
	}
}

// signBody produces the x-paystack-signature value for a raw body.
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// fakeConvo records dispatched conversation calls and signals each one on a
// channel so tests can wait out the detached goroutines.
type fakeConvo struct {
	mu       sync.Mutex
	texts    []domain.InboundMessage
	docs     []domain.InboundMessage
	media    []domain.InboundMessage
	payments []string
	called   chan string
	err      error
}

func newFakeConvo() *fakeConvo {
	return &fakeConvo{called: make(chan string, 8)}
}

func (f *fakeConvo) HandleText(ctx domain.Context, msg domain.InboundMessage) error {
	f.mu.Lock()
	f.texts = append(f.texts, msg)
	f.mu.Unlock()
	f.called <- "text"
	return f.err
}

func (f *fakeConvo) HandleDocument(ctx domain.Context, msg domain.InboundMessage) error {
	f.mu.Lock()
	f.docs = append(f.docs, msg)
	f.mu.Unlock()
	f.called <- "document"
	return f.err
}

func (f *fakeConvo) HandleUnsupportedMedia(ctx domain.Context, msg domain.InboundMessage) error {
	f.mu.Lock()
	f.media = append(f.media, msg)
	f.mu.Unlock()
	f.called <- "media"
	return f.err
}

func (f *fakeConvo) HandlePaymentCompleted(ctx domain.Context, reference string) error {
	f.mu.Lock()
	f.payments = append(f.payments, reference)
	f.mu.Unlock()
	f.called <- "payment"
	return f.err
}

// wait blocks until one dispatched call lands.
func (f *fakeConvo) wait(t *testing.T) string {
	t.Helper()
	select {
	case kind := <-f.called:
		return kind
	case <-time.After(2 * time.Second):
		t.Fatal("no dispatch within deadline")
		return ""
	}
}

// none asserts nothing reached the conversation engine.
func (f *fakeConvo) none(t *testing.T) {
	t.Helper()
	select {
	case kind := <-f.called:
		t.Fatalf("unexpected dispatch %q", kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func (f *fakeConvo) lastText(t *testing.T) domain.InboundMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.texts)
	return f.texts[len(f.texts)-1]
}

type fakeKV struct {
	mu      sync.Mutex
	marks   map[string]bool
	markErr error
	pingErr error
}

func (f *fakeKV) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marks == nil {
		f.marks = map[string]bool{}
	}
	if f.marks[key] {
		return false, nil
	}
	f.marks[key] = true
	return true, nil
}

func (f *fakeKV) Ping(ctx context.Context) error { return f.pingErr }

type fakeDB struct {
	healthErr error
	pool      postgres.PoolStatus
}

func (f *fakeDB) HealthCheck(ctx context.Context) error { return f.healthErr }
func (f *fakeDB) PoolStatus() postgres.PoolStatus       { return f.pool }

type fakeQueueStats struct {
	stats   []asynqadp.QueueStat
	actives map[string][]asynqadp.TaskSummary
	err     error
}

func (f *fakeQueueStats) Stats(ctx domain.Context) ([]asynqadp.QueueStat, error) {
	return f.stats, f.err
}

func (f *fakeQueueStats) ActiveTasks(ctx domain.Context, queue string, n int) ([]asynqadp.TaskSummary, error) {
	return f.actives[queue], nil
}

// fakeMailer records alert subjects; application and confirmation sends are
// not exercised by the HTTP layer.
type fakeMailer struct {
	alerts chan string
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{alerts: make(chan string, 8)}
}

func (f *fakeMailer) SendApplication(ctx domain.Context, m domain.MailMessage) error  { return nil }
func (f *fakeMailer) SendConfirmation(ctx domain.Context, m domain.MailMessage) error { return nil }

func (f *fakeMailer) SendAlert(ctx domain.Context, subject, body string) error {
	f.alerts <- subject
	return nil
}

func (f *fakeMailer) waitAlert(t *testing.T) string {
	t.Helper()
	select {
	case s := <-f.alerts:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no alert within deadline")
		return ""
	}
}

type fakePayments struct {
	mu       sync.Mutex
	verified []string
	status   string
	err      error
}

func (f *fakePayments) Initialize(ctx domain.Context, req domain.PaymentRequest) (domain.PaymentLink, error) {
	return domain.PaymentLink{AuthorizationURL: "https://pay.test/" + req.Reference, Reference: req.Reference}, nil
}

func (f *fakePayments) Verify(ctx domain.Context, reference string) (domain.PaymentVerification, error) {
	f.mu.Lock()
	f.verified = append(f.verified, reference)
	f.mu.Unlock()
	if f.err != nil {
		return domain.PaymentVerification{}, f.err
	}
	status := f.status
	if status == "" {
		status = "success"
	}
	return domain.PaymentVerification{Reference: reference, Status: status, AmountKobo: 30000}, nil
}

type fakeListings struct {
	mu       sync.Mutex
	upserts  []domain.JobListing
	upsertID string
	stats    domain.CatalogStats
	err      error
}

func (f *fakeListings) Search(ctx domain.Context, filters domain.JobFilters, limit int) ([]domain.JobListing, error) {
	return nil, nil
}

func (f *fakeListings) GetByIDs(ctx domain.Context, ids []string) ([]domain.JobListing, error) {
	return nil, nil
}

func (f *fakeListings) Upsert(ctx domain.Context, j domain.JobListing) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.upserts = append(f.upserts, j)
	if f.upsertID == "" {
		return "job-1", nil
	}
	return f.upsertID, nil
}

func (f *fakeListings) PurgeExpired(ctx domain.Context) (int64, error) { return 0, nil }

func (f *fakeListings) Stats(ctx domain.Context) (domain.CatalogStats, error) {
	return f.stats, f.err
}

func (f *fakeListings) lastUpsert(t *testing.T) domain.JobListing {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.upserts)
	return f.upserts[len(f.upserts)-1]
}

type fakeAppStats struct {
	stats postgres.DayStats
	err   error
}

func (f *fakeAppStats) StatsToday(ctx domain.Context) (postgres.DayStats, error) {
	return f.stats, f.err
}
