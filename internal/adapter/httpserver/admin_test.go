package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/httpserver"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
)

// weakArgon2 keeps hashing fast in tests; the key length must stay at the
// production value because verification derives with it.
var weakArgon2 = httpserver.Argon2Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

func adminServer(t *testing.T) *testServer {
	t.Helper()
	ts := newTestServer()
	hash, err := httpserver.HashPassword("hunter2", weakArgon2)
	require.NoError(t, err)
	ts.srv.Cfg.AdminUsername = "ops"
	ts.srv.Cfg.AdminPasswordHash = hash
	return ts
}

func TestBasicAuth_DisabledLooksLikeNotFound(t *testing.T) {
	ts := newTestServer() // no admin credentials configured
	h := ts.srv.BasicAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/admin/rate-limits/123", nil)
	r.SetBasicAuth("ops", "hunter2")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBasicAuth_Challenges(t *testing.T) {
	ts := adminServer(t)
	h := ts.srv.BasicAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// No credentials at all.
	r := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic realm=")

	// Wrong password.
	r = httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	r.SetBasicAuth("ops", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong username.
	r = httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	r.SetBasicAuth("nope", "hunter2")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct credentials reach the handler.
	r = httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	r.SetBasicAuth("ops", "hunter2")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func rateLimitRouter(t *testing.T) (*testServer, *ratelimiter.Limiter, http.Handler) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := ratelimiter.New(rdb, nil)
	ts := newTestServer()
	ts.srv.Limits = limiter

	router := chi.NewRouter()
	router.Get("/admin/rate-limits/{phone}", ts.srv.RateLimitStatusHandler())
	router.Delete("/admin/rate-limits/{phone}", ts.srv.RateLimitResetHandler())
	return ts, limiter, router
}

func TestRateLimitStatusHandler(t *testing.T) {
	_, limiter, router := rateLimitRouter(t)
	ctx := context.Background()
	limiter.Check(ctx, "2348012345678", ratelimiter.ActionMessage)
	limiter.Check(ctx, "2348012345678", ratelimiter.ActionMessage)

	// Local formats normalize to the canonical identifier.
	r := httptest.NewRequest(http.MethodGet, "/admin/rate-limits/08012345678", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Identifier string              `json:"identifier"`
		Limits     []ratelimiter.Usage `json:"limits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "2348012345678", resp.Identifier)

	var msg *ratelimiter.Usage
	for i := range resp.Limits {
		if resp.Limits[i].Action == ratelimiter.ActionMessage {
			msg = &resp.Limits[i]
		}
	}
	require.NotNil(t, msg)
	require.Equal(t, int64(2), msg.Used)
	require.Equal(t, int64(10), msg.Limit)
}

func TestRateLimitResetHandler(t *testing.T) {
	_, limiter, router := rateLimitRouter(t)
	ctx := context.Background()
	limiter.Check(ctx, "2348012345678", ratelimiter.ActionMessage)
	limiter.Check(ctx, "2348012345678", ratelimiter.ActionJobSearch)

	r := httptest.NewRequest(http.MethodDelete, "/admin/rate-limits/2348012345678?action=message", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"cleared"`)

	usages, err := limiter.Status(ctx, "2348012345678")
	require.NoError(t, err)
	for _, u := range usages {
		switch u.Action {
		case ratelimiter.ActionMessage:
			require.Zero(t, u.Used)
		case ratelimiter.ActionJobSearch:
			require.Equal(t, int64(1), u.Used)
		}
	}

	// No action clears everything.
	r = httptest.NewRequest(http.MethodDelete, "/admin/rate-limits/2348012345678", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	usages, err = limiter.Status(ctx, "2348012345678")
	require.NoError(t, err)
	for _, u := range usages {
		require.Zero(t, u.Used, string(u.Action))
	}
}

func TestRateLimitHandlers_BadPhone(t *testing.T) {
	_, _, router := rateLimitRouter(t)
	r := httptest.NewRequest(http.MethodGet, "/admin/rate-limits/bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
