package app_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/httpserver"
	"github.com/Ugoplus/smartcvnaija/internal/app"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
)

func smokeRouter() http.Handler {
	cfg := config.Config{AppEnv: "test"}
	srv := &httpserver.Server{
		Cfg:       cfg,
		Catalog:   intent.DefaultCatalog(),
		Version:   "test",
		StartedAt: time.Now(),
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return app.BuildRouter(cfg, srv)
}

func TestBuildRouter_Health(t *testing.T) {
	h := smokeRouter()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/health: want 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id")
	}
}

func TestBuildRouter_UnknownRouteEnvelope(t *testing.T) {
	h := smokeRouter()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no-such-route", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if env.Error.Code != "NOT_FOUND" {
		t.Fatalf("code = %q, want NOT_FOUND", env.Error.Code)
	}
}

func TestBuildRouter_PrometheusExposition(t *testing.T) {
	h := smokeRouter()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: want 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestBuildRouter_AdminHiddenWithoutCreds(t *testing.T) {
	h := smokeRouter()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rate-limits/08012345678", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404 for unconfigured admin, got %d", rec.Code)
	}
}

func TestBuildRouter_RecruiterRouteMounted(t *testing.T) {
	h := smokeRouter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/recruiter/post-job", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed post: want 400, got %d", rec.Code)
	}
}

func TestBuildRouter_CORSPreflight(t *testing.T) {
	h := smokeRouter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "https://smartcvnaija.com.ng")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK && rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("missing Access-Control-Allow-Origin")
	}
}
