package usecase_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	kvredis "github.com/Ugoplus/smartcvnaija/internal/adapter/kv/redis"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/coverletter"
	"github.com/Ugoplus/smartcvnaija/internal/service/identity"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
	"github.com/Ugoplus/smartcvnaija/internal/service/session"
	"github.com/Ugoplus/smartcvnaija/internal/usecase"
)

const testID = "2348012345678"

// failAI denies every call so intent, letters and scores run their
// deterministic fallbacks.
type failAI struct{}

func (failAI) ChatJSON(ctx domain.Context, system, user string, maxTokens int) (string, error) {
	return "", domain.ErrUpstreamTimeout
}

func (failAI) Chat(ctx domain.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	return "", domain.ErrUpstreamTimeout
}

type sentMsg struct {
	To   string
	Body string
	Opts domain.SendOpts
}

type fakeMessenger struct {
	mu          sync.Mutex
	sent        []sentMsg
	data        []byte
	mime        string
	downloadErr error
	sendErr     error
}

func (f *fakeMessenger) record(to, body string, opts domain.SendOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMsg{To: to, Body: body, Opts: opts})
	return nil
}

func (f *fakeMessenger) SendText(ctx domain.Context, to, body string) error {
	return f.record(to, body, domain.SendOpts{})
}

func (f *fakeMessenger) SmartSend(ctx domain.Context, to, body string, opts domain.SendOpts) error {
	return f.record(to, body, opts)
}

func (f *fakeMessenger) SendButtons(ctx domain.Context, to, body string, buttons []domain.Button) error {
	return f.record(to, body, domain.SendOpts{})
}

func (f *fakeMessenger) SendList(ctx domain.Context, to, header, body, buttonLabel string, sections []domain.ListSection) error {
	return f.record(to, body, domain.SendOpts{})
}

func (f *fakeMessenger) DownloadMedia(ctx domain.Context, doc domain.InboundDocument, maxBytes int64) ([]byte, string, error) {
	if f.downloadErr != nil {
		return nil, "", f.downloadErr
	}
	return f.data, f.mime, nil
}

func (f *fakeMessenger) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Body
	}
	return out
}

func (f *fakeMessenger) last(t *testing.T) sentMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "expected at least one outbound message")
	return f.sent[len(f.sent)-1]
}

type fakeQueue struct {
	mu       sync.Mutex
	cv       []domain.CVTaskPayload
	batches  []domain.ApplicationTaskPayload
	ai       []domain.AITaskPayload
	cvErr    error
	batchErr error
	aiErr    error
}

func (f *fakeQueue) EnqueueCV(ctx domain.Context, p domain.CVTaskPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cvErr != nil {
		return "", f.cvErr
	}
	f.cv = append(f.cv, p)
	return fmt.Sprintf("cv-task-%d", len(f.cv)), nil
}

func (f *fakeQueue) EnqueueApplications(ctx domain.Context, p domain.ApplicationTaskPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return "", f.batchErr
	}
	f.batches = append(f.batches, p)
	return fmt.Sprintf("app-task-%d", len(f.batches)), nil
}

func (f *fakeQueue) EnqueueAI(ctx domain.Context, p domain.AITaskPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aiErr != nil {
		return "", f.aiErr
	}
	f.ai = append(f.ai, p)
	return fmt.Sprintf("ai-task-%d", len(f.ai)), nil
}

type grantCall struct {
	Identifier   string
	Applications int
	Reference    string
}

type fakeUsage struct {
	mu     sync.Mutex
	rows   map[string]*domain.DailyUsage
	grants []grantCall
	getErr error
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{rows: make(map[string]*domain.DailyUsage)}
}

func (f *fakeUsage) Get(ctx domain.Context, identifier string) (domain.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.DailyUsage{}, f.getErr
	}
	row, ok := f.rows[identifier]
	if !ok {
		return domain.DailyUsage{}, fmt.Errorf("op=usage.get: %w", domain.ErrNotFound)
	}
	return *row, nil
}

func (f *fakeUsage) Grant(ctx domain.Context, identifier string, applications int, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, grantCall{Identifier: identifier, Applications: applications, Reference: reference})
	row, ok := f.rows[identifier]
	if !ok {
		row = &domain.DailyUsage{UserIdentifier: identifier}
		f.rows[identifier] = row
	}
	if row.PaymentReference == reference {
		return false, nil
	}
	row.ApplicationsRemaining += applications
	row.PaymentStatus = domain.PaymentCompleted
	row.PaymentReference = reference
	return true, nil
}

func (f *fakeUsage) Deduct(ctx domain.Context, identifier string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[identifier]
	if !ok || row.ApplicationsRemaining < n {
		return 0, fmt.Errorf("op=usage.deduct: %w", domain.ErrQuotaExceeded)
	}
	row.ApplicationsRemaining -= n
	row.TotalApplicationsToday += n
	return row.ApplicationsRemaining, nil
}

func (f *fakeUsage) PurgeStale(ctx domain.Context, keepDays int) (int64, error) { return 0, nil }

func (f *fakeUsage) remaining(identifier string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[identifier]; ok {
		return row.ApplicationsRemaining
	}
	return 0
}

func (f *fakeUsage) seed(identifier string, remaining int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[identifier] = &domain.DailyUsage{
		UserIdentifier:        identifier,
		ApplicationsRemaining: remaining,
		PaymentStatus:         domain.PaymentCompleted,
	}
}

type fakeListings struct {
	mu        sync.Mutex
	search    []domain.JobListing
	searchErr error
	byID      map[string]domain.JobListing
}

func newFakeListings(jobs ...domain.JobListing) *fakeListings {
	f := &fakeListings{search: jobs, byID: make(map[string]domain.JobListing)}
	for _, j := range jobs {
		f.byID[j.ID] = j
	}
	return f
}

func (f *fakeListings) Search(ctx domain.Context, filters domain.JobFilters, limit int) ([]domain.JobListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.search) > limit {
		return f.search[:limit], nil
	}
	return f.search, nil
}

// GetByIDs returns matches in reverse request order so callers that care
// about presentation order have to restore it themselves.
func (f *fakeListings) GetByIDs(ctx domain.Context, ids []string) ([]domain.JobListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.JobListing, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if j, ok := f.byID[ids[i]]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeListings) Upsert(ctx domain.Context, j domain.JobListing) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[j.ID] = j
	return j.ID, nil
}

func (f *fakeListings) PurgeExpired(ctx domain.Context) (int64, error) { return 0, nil }

func (f *fakeListings) Stats(ctx domain.Context) (domain.CatalogStats, error) {
	return domain.CatalogStats{}, nil
}

type fakeApps struct {
	mu         sync.Mutex
	created    []domain.Application
	sentIDs    []string
	failed     map[string]string
	countToday int
	createErr  error
}

func newFakeApps() *fakeApps { return &fakeApps{failed: make(map[string]string)} }

func (f *fakeApps) Create(ctx domain.Context, a domain.Application) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	a.ID = fmt.Sprintf("app-%d", len(f.created)+1)
	f.created = append(f.created, a)
	return a.ID, nil
}

func (f *fakeApps) MarkEmailSent(ctx domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentIDs = append(f.sentIDs, id)
	return nil
}

func (f *fakeApps) MarkEmailFailed(ctx domain.Context, id string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errMsg
	return nil
}

func (f *fakeApps) CountToday(ctx domain.Context, identifier string) (int, error) {
	return f.countToday, nil
}

func (f *fakeApps) PurgeOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakePayments struct {
	mu        sync.Mutex
	reqs      []domain.PaymentRequest
	link      domain.PaymentLink
	initErr   error
	verif     domain.PaymentVerification
	verifyErr error
}

func (f *fakePayments) Initialize(ctx domain.Context, req domain.PaymentRequest) (domain.PaymentLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return domain.PaymentLink{}, f.initErr
	}
	f.reqs = append(f.reqs, req)
	link := f.link
	if link.AuthorizationURL == "" {
		link.AuthorizationURL = "https://checkout.paystack.com/abc123"
	}
	link.Reference = req.Reference
	return link, nil
}

func (f *fakePayments) Verify(ctx domain.Context, reference string) (domain.PaymentVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return domain.PaymentVerification{}, f.verifyErr
	}
	v := f.verif
	v.Reference = reference
	return v, nil
}

type alertMail struct {
	Subject string
	Body    string
}

type fakeMailer struct {
	mu         sync.Mutex
	apps       []domain.MailMessage
	confirms   []domain.MailMessage
	alerts     []alertMail
	appErr     error
	confirmErr error
}

func (f *fakeMailer) SendApplication(ctx domain.Context, m domain.MailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appErr != nil {
		return f.appErr
	}
	f.apps = append(f.apps, m)
	return nil
}

func (f *fakeMailer) SendConfirmation(ctx domain.Context, m domain.MailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.confirms = append(f.confirms, m)
	return nil
}

func (f *fakeMailer) SendAlert(ctx domain.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alertMail{Subject: subject, Body: body})
	return nil
}

// convoFixture wires a ConversationService over miniredis and the fakes.
type convoFixture struct {
	svc       *usecase.ConversationService
	sessions  *session.Manager
	mr        *miniredis.Miniredis
	messenger *fakeMessenger
	queue     *fakeQueue
	usage     *fakeUsage
	listings  *fakeListings
	apps      *fakeApps
	payments  *fakePayments
	catalog   *intent.Catalog
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:                 "test",
		BaseURL:                "https://bot.example.com",
		PaymentAmount:          30000,
		ApplicationsPerPayment: 5,
		MaxCVMB:                5,
	}
}

func newConvoFixture(t *testing.T, jobs ...domain.JobListing) *convoFixture {
	return newConvoFixtureWithRules(t, nil, jobs...)
}

func newConvoFixtureWithRules(t *testing.T, rules map[ratelimiter.Action]ratelimiter.Rule, jobs ...domain.JobListing) *convoFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog, err := intent.LoadCatalog()
	require.NoError(t, err)

	ai := failAI{}
	fx := &convoFixture{
		sessions:  session.NewManager(kvredis.NewStore(rdb)),
		mr:        mr,
		messenger: &fakeMessenger{},
		queue:     &fakeQueue{},
		usage:     newFakeUsage(),
		listings:  newFakeListings(jobs...),
		apps:      newFakeApps(),
		payments:  &fakePayments{verif: domain.PaymentVerification{Status: "success", AmountKobo: 30000}},
		catalog:   catalog,
	}
	fx.svc = usecase.NewConversationService(usecase.ConversationService{
		Sessions:    fx.sessions,
		Limits:      ratelimiter.New(rdb, rules),
		Intents:     intent.New(ai, catalog),
		Letters:     coverletter.New(ai, catalog),
		Identities:  identity.New(catalog),
		Listings:    fx.listings,
		Apps:        fx.apps,
		Usage:       fx.usage,
		Queue:       fx.queue,
		Messenger:   fx.messenger,
		Payments:    fx.payments,
		Cfg:         testConfig(),
		ResumeDelay: time.Millisecond,
	})
	return fx
}

func inbound(text string) domain.InboundMessage {
	return domain.InboundMessage{
		MessageID: "wamid.test.1",
		From:      testID,
		Type:      "text",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func twoJobs() []domain.JobListing {
	return []domain.JobListing{
		{ID: "job-1", Title: "Software Engineer", Company: "Paystack", Location: "Lagos",
			State: "Lagos", Email: "careers@paystack.example", Category: "it_software"},
		{ID: "job-2", Title: "Backend Developer", Company: "Flutterwave", Location: "Lagos",
			State: "Lagos", Email: "jobs@flutterwave.example", Category: "it_software"},
	}
}
