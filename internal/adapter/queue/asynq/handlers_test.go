package asynqadp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asynqadp "github.com/Ugoplus/smartcvnaija/internal/adapter/queue/asynq"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/usecase"
)

type cvRunnerFunc func(ctx domain.Context, taskID string, p domain.CVTaskPayload, progress usecase.ProgressFunc) error

func (f cvRunnerFunc) Process(ctx domain.Context, taskID string, p domain.CVTaskPayload, progress usecase.ProgressFunc) error {
	return f(ctx, taskID, p, progress)
}

type fanoutRunnerFunc func(ctx domain.Context, taskID string, p domain.ApplicationTaskPayload, progress usecase.ProgressFunc) error

func (f fanoutRunnerFunc) Fanout(ctx domain.Context, taskID string, p domain.ApplicationTaskPayload, progress usecase.ProgressFunc) error {
	return f(ctx, taskID, p, progress)
}

type letterRunnerFunc func(ctx domain.Context, identifier string) error

func (f letterRunnerFunc) GenerateCoverLetter(ctx domain.Context, identifier string) error {
	return f(ctx, identifier)
}

type fakeGuard struct {
	admitErr error
	jobs     int
	failed   int
}

func (g *fakeGuard) Admit() error { return g.admitErr }

func (g *fakeGuard) RecordJob(_ time.Duration, failed bool) {
	g.jobs++
	if failed {
		g.failed++
	}
}

type handlerFixture struct {
	deps  asynqadp.HandlerDeps
	store *asynqadp.ProgressStore
	guard *fakeGuard
	mr    *miniredis.Miniredis
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := asynqadp.NewProgressStore(rdb)
	guard := &fakeGuard{}
	return &handlerFixture{
		deps:  asynqadp.HandlerDeps{Guard: guard, Progress: store},
		store: store,
		guard: guard,
		mr:    mr,
	}
}

// Handlers invoked outside an asynq server see an empty task ID; the mirror
// keys collapse onto the empty suffix, which is fine for assertions.
func (f *handlerFixture) result(t *testing.T) map[string]string {
	t.Helper()
	raw, found, err := f.store.GetResult(context.Background(), "")
	require.NoError(t, err)
	require.True(t, found, "expected a mirrored result")
	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCVHandlerMirrorsProgressAndResult(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	var got domain.CVTaskPayload
	f.deps.CV = cvRunnerFunc(func(_ domain.Context, _ string, p domain.CVTaskPayload, progress usecase.ProgressFunc) error {
		got = p
		progress(60, "text extracted")
		return nil
	})
	h := asynqadp.NewHandlers(f.deps)

	payload := domain.CVTaskPayload{
		Identifier: "2348012345678",
		Filename:   "cv.pdf",
		MimeType:   "application/pdf",
		Size:       2048,
		Data:       []byte("%PDF-1.4 stub"),
	}
	err := h.CVProcess(context.Background(), asynq.NewTask(asynqadp.TaskCVProcess, mustJSON(t, payload)))
	require.NoError(t, err)

	assert.Equal(t, payload.Identifier, got.Identifier)
	assert.Equal(t, payload.Data, got.Data)

	p, found, err := f.store.GetProgress(context.Background(), "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 60, p.Percent)
	assert.Equal(t, "text extracted", p.Note)

	assert.Equal(t, "completed", f.result(t)["status"])
	assert.Equal(t, 1, f.guard.jobs)
	assert.Equal(t, 0, f.guard.failed)
}

func TestCVHandlerValidationFailureSkipsRetry(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.deps.CV = cvRunnerFunc(func(domain.Context, string, domain.CVTaskPayload, usecase.ProgressFunc) error {
		return fmt.Errorf("op=cv.Process class=size: %w", domain.ErrCVValidation)
	})
	h := asynqadp.NewHandlers(f.deps)

	err := h.CVProcess(context.Background(), asynq.NewTask(asynqadp.TaskCVProcess, mustJSON(t, domain.CVTaskPayload{})))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, domain.ErrCVValidation)

	res := f.result(t)
	assert.Equal(t, "failed", res["status"])
	assert.Contains(t, res["error"], "class=size")
	assert.Equal(t, 1, f.guard.failed)
}

func TestCVHandlerInfraFailureStaysRetryable(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.deps.CV = cvRunnerFunc(func(domain.Context, string, domain.CVTaskPayload, usecase.ProgressFunc) error {
		return fmt.Errorf("op=session.set: %w", domain.ErrInternal)
	})
	h := asynqadp.NewHandlers(f.deps)

	err := h.CVProcess(context.Background(), asynq.NewTask(asynqadp.TaskCVProcess, mustJSON(t, domain.CVTaskPayload{})))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestCVHandlerRefusesUnderMemoryPressure(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	f.guard.admitErr = fmt.Errorf("heap 2900MB against 3072MB limit: %w", domain.ErrMemoryPressure)

	called := false
	f.deps.CV = cvRunnerFunc(func(domain.Context, string, domain.CVTaskPayload, usecase.ProgressFunc) error {
		called = true
		return nil
	})
	h := asynqadp.NewHandlers(f.deps)

	err := h.CVProcess(context.Background(), asynq.NewTask(asynqadp.TaskCVProcess, mustJSON(t, domain.CVTaskPayload{})))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryPressure)
	assert.NotErrorIs(t, err, asynq.SkipRetry, "pressure refusals must stay retryable")
	assert.False(t, called, "pipeline must not run under pressure")
	assert.Equal(t, 0, f.guard.jobs)
}

func TestCVHandlerMalformedPayloadSkipsRetry(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	f.deps.CV = cvRunnerFunc(func(domain.Context, string, domain.CVTaskPayload, usecase.ProgressFunc) error {
		t.Fatal("pipeline must not see an undecodable payload")
		return nil
	})
	h := asynqadp.NewHandlers(f.deps)

	err := h.CVProcess(context.Background(), asynq.NewTask(asynqadp.TaskCVProcess, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, "failed", f.result(t)["status"])
}

func TestApplicationHandlerPassesBatchThrough(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	var got domain.ApplicationTaskPayload
	f.deps.Apps = fanoutRunnerFunc(func(_ domain.Context, _ string, p domain.ApplicationTaskPayload, progress usecase.ProgressFunc) error {
		got = p
		progress(95, "summary sent")
		return nil
	})
	h := asynqadp.NewHandlers(f.deps)

	payload := domain.ApplicationTaskPayload{
		BatchID:    "batch-7",
		Identifier: "2348012345678",
		JobIDs:     []string{"job-1", "job-2"},
	}
	err := h.ApplicationSend(context.Background(), asynq.NewTask(asynqadp.TaskApplicationSend, mustJSON(t, payload)))
	require.NoError(t, err)

	assert.Equal(t, payload.BatchID, got.BatchID)
	assert.Equal(t, payload.JobIDs, got.JobIDs)
	assert.Equal(t, "completed", f.result(t)["status"])
}

func TestApplicationHandlerMissingBinarySkipsRetry(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.deps.Apps = fanoutRunnerFunc(func(domain.Context, string, domain.ApplicationTaskPayload, usecase.ProgressFunc) error {
		return fmt.Errorf("op=fanout.read batch=batch-7: %w: no stored cv", domain.ErrNotFound)
	})
	h := asynqadp.NewHandlers(f.deps)

	err := h.ApplicationSend(context.Background(), asynq.NewTask(asynqadp.TaskApplicationSend, mustJSON(t, domain.ApplicationTaskPayload{BatchID: "batch-7"})))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "batch=batch-7")
}

func TestApplicationHandlerSMTPFailureStaysRetryable(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.deps.Apps = fanoutRunnerFunc(func(domain.Context, string, domain.ApplicationTaskPayload, usecase.ProgressFunc) error {
		return fmt.Errorf("op=fanout.send: %w", domain.ErrUpstreamTimeout)
	})
	h := asynqadp.NewHandlers(f.deps)

	err := h.ApplicationSend(context.Background(), asynq.NewTask(asynqadp.TaskApplicationSend, mustJSON(t, domain.ApplicationTaskPayload{})))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestAIHandlerRoutesCoverLetter(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	var gotID string
	f.deps.Letters = letterRunnerFunc(func(_ domain.Context, identifier string) error {
		gotID = identifier
		return nil
	})
	h := asynqadp.NewHandlers(f.deps)

	payload := domain.AITaskPayload{Kind: domain.AITaskCoverLetter, Identifier: "2348012345678"}
	err := h.AIRun(context.Background(), asynq.NewTask(asynqadp.TaskAIRun, mustJSON(t, payload)))
	require.NoError(t, err)
	assert.Equal(t, "2348012345678", gotID)
	assert.Equal(t, "completed", f.result(t)["status"])
}

func TestAIHandlerUnknownKindSkipsRetry(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	f.deps.Letters = letterRunnerFunc(func(domain.Context, string) error { return nil })
	h := asynqadp.NewHandlers(f.deps)

	err := h.AIRun(context.Background(), asynq.NewTask(asynqadp.TaskAIRun, mustJSON(t, domain.AITaskPayload{Kind: "summarize"})))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), `unknown kind "summarize"`)
}
