package ycloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

type captured struct {
	mu     sync.Mutex
	paths  []string
	bodies []message
	apiKey string
}

func (c *captured) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, r.URL.Path)
	c.apiKey = r.Header.Get("X-API-Key")
	var m message
	_ = json.NewDecoder(r.Body).Decode(&m)
	c.bodies = append(c.bodies, m)
}

func newTestClient(baseURL string) *Client {
	return New(config.Config{
		YCloudAPIKey:      "yk-test",
		YCloudBaseURL:     baseURL,
		WhatsAppFrom:      "2348000000000",
		YCloudHTTPTimeout: 5 * time.Second,
	})
}

func TestSendTextPostsMessage(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SendText(context.Background(), "08031234567", "Hello there")
	require.NoError(t, err)

	require.Len(t, rec.bodies, 1)
	m := rec.bodies[0]
	assert.Equal(t, "/whatsapp/messages/sendDirectly", rec.paths[0])
	assert.Equal(t, "yk-test", rec.apiKey)
	assert.Equal(t, "2348000000000", m.From)
	assert.Equal(t, "2348031234567", m.To)
	assert.Equal(t, "text", m.Type)
	require.NotNil(t, m.Text)
	assert.Equal(t, "Hello there", m.Text.Body)
}

func TestSendTextSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid api key"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SendText(context.Background(), "2348031234567", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestSendButtonsClipsToPlatformLimits(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	buttons := []domain.Button{
		{ID: "apply_all", Title: "Apply to all matching jobs right now"},
		{ID: "refine", Title: "Refine"},
		{ID: "upload", Title: "Upload CV"},
		{ID: "extra", Title: "Should be dropped"},
	}
	err := c.SendButtons(context.Background(), "2348031234567", "What next?", buttons)
	require.NoError(t, err)

	require.Len(t, rec.bodies, 1)
	m := rec.bodies[0]
	require.NotNil(t, m.Interactive)
	assert.Equal(t, "button", m.Interactive.Type)
	assert.Equal(t, "What next?", m.Interactive.Body.Body)
	require.Len(t, m.Interactive.Action.Buttons, 3)
	assert.Equal(t, "Apply to all matchin", m.Interactive.Action.Buttons[0].Reply.Title)
	assert.Equal(t, "Refine", m.Interactive.Action.Buttons[1].Reply.Title)
}

func TestSendButtonsFallsBackToText(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		rec.mu.Lock()
		last := rec.bodies[len(rec.bodies)-1]
		rec.mu.Unlock()
		if last.Type == "interactive" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"interactive not supported"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	buttons := []domain.Button{
		{ID: "yes", Title: "Yes"},
		{ID: "no", Title: "No"},
	}
	err := c.SendButtons(context.Background(), "2348031234567", "Apply to these jobs?", buttons)
	require.NoError(t, err)

	require.Len(t, rec.bodies, 2)
	fallback := rec.bodies[1]
	assert.Equal(t, "text", fallback.Type)
	require.NotNil(t, fallback.Text)
	assert.Contains(t, fallback.Text.Body, "Apply to these jobs?")
	assert.Contains(t, fallback.Text.Body, "1. Yes")
	assert.Contains(t, fallback.Text.Body, "2. No")
}

func TestSendListCapsRowsAcrossSections(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mkRows := func(prefix string, n int) []domain.ListRow {
		rows := make([]domain.ListRow, 0, n)
		for i := 1; i <= n; i++ {
			rows = append(rows, domain.ListRow{
				ID:    fmt.Sprintf("%s-%d", prefix, i),
				Title: fmt.Sprintf("%s role number %d with a very long title", prefix, i),
			})
		}
		return rows
	}
	sections := []domain.ListSection{
		{Title: "Lagos", Rows: mkRows("lagos", 7)},
		{Title: "Abuja", Rows: mkRows("abuja", 6)},
	}

	c := newTestClient(srv.URL)
	err := c.SendList(context.Background(), "2348031234567", "Jobs found", "Pick a job to view", "View jobs", sections)
	require.NoError(t, err)

	require.Len(t, rec.bodies, 1)
	m := rec.bodies[0]
	require.NotNil(t, m.Interactive)
	assert.Equal(t, "list", m.Interactive.Type)
	require.NotNil(t, m.Interactive.Header)
	assert.Equal(t, "Jobs found", m.Interactive.Header.Text)
	assert.Equal(t, "View jobs", m.Interactive.Action.Button)

	total := 0
	for _, s := range m.Interactive.Action.Sections {
		for _, r := range s.Rows {
			total++
			assert.LessOrEqual(t, len([]rune(r.Title)), 24)
		}
	}
	assert.Equal(t, 10, total)
	require.Len(t, m.Interactive.Action.Sections, 2)
	assert.Len(t, m.Interactive.Action.Sections[0].Rows, 7)
	assert.Len(t, m.Interactive.Action.Sections[1].Rows, 3)
}

func TestSendListFallsBackToText(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		rec.mu.Lock()
		last := rec.bodies[len(rec.bodies)-1]
		rec.mu.Unlock()
		if last.Type == "interactive" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sections := []domain.ListSection{{
		Title: "Jobs",
		Rows: []domain.ListRow{
			{ID: "1", Title: "Accountant", Description: "Zenith Bank, Lagos"},
			{ID: "2", Title: "Auditor", Description: "KPMG, Abuja"},
		},
	}}

	c := newTestClient(srv.URL)
	err := c.SendList(context.Background(), "2348031234567", "Jobs found", "Pick one", "View", sections)
	require.NoError(t, err)

	require.Len(t, rec.bodies, 2)
	fallback := rec.bodies[1]
	assert.Equal(t, "text", fallback.Type)
	assert.Contains(t, fallback.Text.Body, "Jobs found")
	assert.Contains(t, fallback.Text.Body, "1. Accountant - Zenith Bank, Lagos")
	assert.Contains(t, fallback.Text.Body, "2. Auditor - KPMG, Abuja")
}

func TestSmartSendTypesThenDelaysThenSends(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	err := c.SmartSend(context.Background(), "2348031234567", "Found 4 jobs for you", domain.SendOpts{
		Kind:             domain.KindSearchResults,
		InboundMessageID: "wamid.inbound",
	})
	require.NoError(t, err)

	require.Len(t, rec.paths, 2)
	assert.Equal(t, "/whatsapp/inboundMessages/wamid.inbound/typingIndicator", rec.paths[0])
	assert.Equal(t, "/whatsapp/messages/sendDirectly", rec.paths[1])
	require.Len(t, slept, 1)
	assert.Equal(t, 3*time.Second, slept[0])
}

func TestSmartSendWithoutInboundSkipsTyping(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	err := c.SmartSend(context.Background(), "2348031234567", "ok", domain.SendOpts{Kind: domain.KindInstant})
	require.NoError(t, err)

	require.Len(t, rec.paths, 1)
	assert.Equal(t, "/whatsapp/messages/sendDirectly", rec.paths[0])
}

func TestSmartSendAbortsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	var rec captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.SmartSend(ctx, "2348031234567", strings.Repeat("x", 200), domain.SendOpts{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.paths)
}

func TestSendDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		kind    domain.MessageKind
		urgency domain.Urgency
		want    time.Duration
	}{
		{name: "search results", kind: domain.KindSearchResults, want: 3 * time.Second},
		{name: "processing", kind: domain.KindProcessing, want: 5 * time.Second},
		{name: "payment info", kind: domain.KindPaymentInfo, want: 2 * time.Second},
		{name: "instant", kind: domain.KindInstant, want: 500 * time.Millisecond},
		{name: "short text clamps to floor", text: "ok", want: time.Second},
		{name: "long text clamps to ceiling", text: strings.Repeat("a", 500), want: 25 * time.Second},
		{name: "high urgency halves", kind: domain.KindProcessing, urgency: domain.UrgencyHigh, want: 2500 * time.Millisecond},
		{name: "low urgency stretches", kind: domain.KindPaymentInfo, urgency: domain.UrgencyLow, want: 3 * time.Second},
		{name: "instant high urgency", kind: domain.KindInstant, urgency: domain.UrgencyHigh, want: 250 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sendDelay(tt.text, tt.kind, tt.urgency))
		})
	}

	// 33 chars at 3.3 chars/sec reads in ten seconds.
	got := sendDelay(strings.Repeat("a", 33), domain.KindDefault, domain.UrgencyNormal)
	assert.InDelta(t, float64(10*time.Second), float64(got), float64(50*time.Millisecond))
}

func pdfBytes(n int) []byte {
	b := []byte("%PDF-1.4\n% fake body for sniffing\n")
	for len(b) < n {
		b = append(b, "0 0 obj padding\n"...)
	}
	return b[:n]
}

func TestDownloadMediaDirectLink(t *testing.T) {
	t.Parallel()

	payload := pdfBytes(2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/cv.pdf", r.URL.Path)
		assert.Equal(t, "yk-test", r.Header.Get("X-API-Key"))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	doc := domain.InboundDocument{Link: srv.URL + "/files/cv.pdf", Filename: "cv.pdf"}
	data, mime, err := c.DownloadMedia(context.Background(), doc, 5<<20)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "application/pdf", mime)
}

func TestDownloadMediaResolvesMediaID(t *testing.T) {
	t.Parallel()

	payload := pdfBytes(4096)
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/whatsapp/media/media-42":
			assert.Equal(t, "yk-test", r.Header.Get("X-API-Key"))
			_ = json.NewEncoder(w).Encode(map[string]string{"url": srvURL + "/signed/media-42"})
		case "/signed/media-42":
			_, _ = w.Write(payload)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(srv.URL)
	doc := domain.InboundDocument{MediaID: "media-42", Filename: "cv.pdf"}
	data, mime, err := c.DownloadMedia(context.Background(), doc, 5<<20)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "application/pdf", mime)
}

func TestDownloadMediaRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  []byte
		maxBytes int64
		wantMsg  string
	}{
		{name: "too small", payload: []byte("%PDF-1.4\ntiny"), maxBytes: 5 << 20, wantMsg: "too small"},
		{name: "too large", payload: pdfBytes(3000), maxBytes: 2048, wantMsg: "exceeds"},
		{name: "wrong type", payload: []byte(strings.Repeat("plain text resume content here. ", 10)), maxBytes: 5 << 20, wantMsg: "unsupported document type"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(tt.payload)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL)
			doc := domain.InboundDocument{Link: srv.URL + "/f"}
			_, _, err := c.DownloadMedia(context.Background(), doc, tt.maxBytes)
			require.ErrorIs(t, err, domain.ErrCVValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDownloadMediaWithoutLinkOrID(t *testing.T) {
	t.Parallel()

	c := newTestClient("http://unused.invalid")
	_, _, err := c.DownloadMedia(context.Background(), domain.InboundDocument{}, 5<<20)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

var _ domain.Messenger = (*Client)(nil)
