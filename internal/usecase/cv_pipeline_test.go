package usecase_test

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvredis "github.com/Ugoplus/smartcvnaija/internal/adapter/kv/redis"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/extraction"
	"github.com/Ugoplus/smartcvnaija/internal/service/identity"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/internal/service/session"
	"github.com/Ugoplus/smartcvnaija/internal/service/uploads"
	"github.com/Ugoplus/smartcvnaija/internal/usecase"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// docxOf zips a minimal OOXML document with one run per paragraph.
func docxOf(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	doc.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		doc.WriteString(`<w:p><w:r><w:t>`)
		doc.WriteString(p)
		doc.WriteString(`</w:t></w:r></w:p>`)
	}
	doc.WriteString(`</w:body></w:document>`)

	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(doc.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func sampleCVParagraphs() []string {
	return []string{
		"Adaeze Obi",
		"Email: adaeze.obi@gmail.com",
		"Phone: 08012345678",
		"Software engineer with 5 years of experience building payment systems.",
		"BSc Computer Science, University of Lagos.",
	}
}

type cvFixture struct {
	svc       *usecase.CVService
	sessions  *session.Manager
	uploads   *uploads.Manager
	usage     *fakeUsage
	messenger *fakeMessenger
	mailer    *fakeMailer
}

func newCVFixture(t *testing.T) *cvFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog, err := intent.LoadCatalog()
	require.NoError(t, err)
	up, err := uploads.New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(up.Close)

	fx := &cvFixture{
		sessions:  session.NewManager(kvredis.NewStore(rdb)),
		uploads:   up,
		usage:     newFakeUsage(),
		messenger: &fakeMessenger{},
		mailer:    &fakeMailer{},
	}
	fx.svc = usecase.NewCVService(usecase.CVService{
		Sessions:   fx.sessions,
		Extractor:  extraction.New(testConfig().MaxCVBytes()),
		Identities: identity.New(catalog),
		Uploads:    fx.uploads,
		Usage:      fx.usage,
		Messenger:  fx.messenger,
		Mailer:     fx.mailer,
		Cfg:        testConfig(),
	})
	return fx
}

type progressLog struct {
	percents []int
	notes    []string
}

func (p *progressLog) record(percent int, note string) {
	p.percents = append(p.percents, percent)
	p.notes = append(p.notes, note)
}

func cvPayload(data []byte, filename, mime string) domain.CVTaskPayload {
	return domain.CVTaskPayload{
		Identifier: testID,
		Filename:   filename,
		MimeType:   mime,
		Size:       int64(len(data)),
		Data:       data,
	}
}

func TestProcessStoresTextFileAndSession(t *testing.T) {
	ctx := context.Background()
	fx := newCVFixture(t)
	fx.usage.seed(testID, 3)

	data := docxOf(t, sampleCVParagraphs()...)
	var prog progressLog
	err := fx.svc.Process(ctx, "task-1", cvPayload(data, "adaeze_cv.docx", docxMIME), prog.record)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 20, 60, 80, 90, 100}, prog.percents)

	text, ok, err := fx.sessions.CVText(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, text, "Adaeze Obi")

	ref, ok, err := fx.sessions.CVFile(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, ref.Path, "cv_"+testID+"_")
	assert.True(t, strings.HasSuffix(ref.Path, ".docx"), "path %q should keep the docx extension", ref.Path)
	stored, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	meta, ok, err := fx.sessions.CVMeta(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "adaeze_cv.docx", meta.Filename)
	assert.Equal(t, int64(len(data)), meta.Size)
	assert.Greater(t, meta.TextLength, 50)

	email, ok, err := fx.sessions.Email(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "adaeze.obi@gmail.com", email)

	state, err := fx.sessions.State(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingCoverLetter, state)

	reply := fx.messenger.last(t)
	assert.Contains(t, reply.Body, "CV received")
	assert.Contains(t, reply.Body, "3 application(s) left today")
	assert.Empty(t, fx.mailer.alerts)
}

func TestProcessQuotaLineOmittedWithoutBalance(t *testing.T) {
	ctx := context.Background()
	fx := newCVFixture(t)

	data := docxOf(t, sampleCVParagraphs()...)
	require.NoError(t, fx.svc.Process(ctx, "task-1", cvPayload(data, "cv.docx", docxMIME), nil))

	body := fx.messenger.last(t).Body
	assert.Contains(t, body, "CV received")
	assert.NotContains(t, body, "left today")
}

func TestProcessRejectsTinyPayload(t *testing.T) {
	ctx := context.Background()
	fx := newCVFixture(t)

	data := bytes.Repeat([]byte("x"), 60)
	err := fx.svc.Process(ctx, "task-2", cvPayload(data, "cv.pdf", "application/pdf"), nil)
	require.ErrorIs(t, err, domain.ErrCVValidation)

	assert.Contains(t, fx.messenger.last(t).Body, "PDF or DOCX")
	require.Len(t, fx.mailer.alerts, 1)
	assert.Contains(t, fx.mailer.alerts[0].Subject, "size")
	assert.Contains(t, fx.mailer.alerts[0].Body, "task-2")
	assert.NotContains(t, fx.mailer.alerts[0].Body, testID, "alert must mask the identifier")

	_, ok, _ := fx.sessions.CVText(ctx, testID)
	assert.False(t, ok)
}

func TestProcessRejectsUnknownFormat(t *testing.T) {
	ctx := context.Background()
	fx := newCVFixture(t)

	data := bytes.Repeat([]byte("plain text resume content "), 10)
	err := fx.svc.Process(ctx, "task-3", cvPayload(data, "cv.txt", "text/plain"), nil)
	require.ErrorIs(t, err, domain.ErrCVValidation)

	assert.Contains(t, fx.messenger.last(t).Body, "PDF and DOCX")
	state, err2 := fx.sessions.State(ctx, testID)
	require.NoError(t, err2)
	assert.Equal(t, domain.StateIdle, state)
}

func TestProcessRejectsUnreadableDocument(t *testing.T) {
	ctx := context.Background()
	fx := newCVFixture(t)

	// valid DOCX, but the cleaned text is far below the usable floor
	data := docxOf(t, "Hi")
	err := fx.svc.Process(ctx, "task-4", cvPayload(data, "cv.docx", docxMIME), nil)
	require.ErrorIs(t, err, domain.ErrCVValidation)

	assert.Contains(t, fx.messenger.last(t).Body, "couldn't read any text")
	require.Len(t, fx.mailer.alerts, 1)
	assert.Contains(t, fx.mailer.alerts[0].Subject, "unreadable")
}
