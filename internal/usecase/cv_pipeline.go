package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/extraction"
	"github.com/Ugoplus/smartcvnaija/internal/service/identity"
	"github.com/Ugoplus/smartcvnaija/internal/service/session"
	"github.com/Ugoplus/smartcvnaija/internal/service/uploads"
)

// ProgressFunc mirrors pipeline stages to the progress store; handlers
// inject it so pollers can watch a task move.
type ProgressFunc func(percent int, note string)

// CVService runs the cv-processing pipeline: validate, detect, extract,
// clean, persist, and prime the session for the cover-letter step.
type CVService struct {
	Sessions   *session.Manager
	Extractor  *extraction.Service
	Identities *identity.Extractor
	Uploads    *uploads.Manager
	Usage      domain.UsageRepository
	Messenger  domain.Messenger
	Mailer     domain.Mailer

	Cfg config.Config
	Log *slog.Logger
}

// NewCVService fills defaults on a field-wise constructed service.
func NewCVService(s CVService) *CVService {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	return &s
}

// Process handles one uploaded CV. Validation failures notify the user and
// return domain.ErrCVValidation so the handler can refuse the retry;
// anything else is retryable.
func (s *CVService) Process(ctx domain.Context, taskID string, p domain.CVTaskPayload, progress ProgressFunc) error {
	step := func(percent int, note string) {
		if progress != nil {
			progress(percent, note)
		}
	}

	step(10, "validating size")
	if err := s.Extractor.ValidateSize(p.Size); err != nil {
		return s.fail(ctx, taskID, p, "size", err,
			fmt.Sprintf("📄 That file doesn't look like a proper CV. Please send a PDF or DOCX between 1 KB and %d MB.", s.Cfg.MaxCVMB))
	}

	step(20, "detecting format")
	format, err := s.Extractor.Detect(p.Data, p.Filename, p.MimeType)
	if err != nil {
		return s.fail(ctx, taskID, p, "format", err,
			"📄 I can only read PDF and DOCX files. Please convert your CV and resend it.")
	}

	step(60, "extracting text")
	text, err := s.Extractor.Extract(ctx, p.Data, format)
	if err != nil {
		return s.fail(ctx, taskID, p, "unreadable", err,
			"📄 I couldn't read any text in that file. If your CV is a scan, please send a text-based PDF or DOCX.")
	}
	step(80, "text cleaned")

	path, err := s.Uploads.Save(p.Identifier, "."+format.Ext(), p.Data)
	if err != nil {
		return s.fail(ctx, taskID, p, "storage", err,
			"😓 Something went wrong while saving your CV. Please resend it.")
	}
	step(90, "file stored")

	if err := s.Sessions.SetCVText(ctx, p.Identifier, text); err != nil {
		return s.fail(ctx, taskID, p, "session", err,
			"😓 Something went wrong while saving your CV. Please resend it.")
	}
	if err := s.Sessions.SetCVFile(ctx, p.Identifier, domain.FileRef{
		Path:         path,
		OriginalName: p.Filename,
		MimeType:     p.MimeType,
		Size:         p.Size,
	}); err != nil {
		s.Log.Warn("cv file ref store failed", slog.Any("error", err))
	}
	if err := s.Sessions.SetCVMeta(ctx, p.Identifier, domain.CVMeta{
		Filename:   p.Filename,
		MIME:       p.MimeType,
		Size:       p.Size,
		TextLength: len(text),
		UploadedAt: time.Now().UTC(),
	}); err != nil {
		s.Log.Warn("cv meta store failed", slog.Any("error", err))
	}

	// remember the applicant's address for payment receipts
	if id := s.Identities.Extract(text); id.Email != "" {
		if err := s.Sessions.SetEmail(ctx, p.Identifier, id.Email); err != nil {
			s.Log.Warn("email store failed", slog.Any("error", err))
		}
	}

	if err := s.Sessions.SetState(ctx, p.Identifier, domain.StateAwaitingCoverLetter); err != nil {
		s.Log.Warn("state store failed", slog.Any("error", err))
	}
	step(100, "done")

	s.Log.Info("cv processed",
		slog.String("identifier", mask(p.Identifier)),
		slog.String("format", string(format)),
		slog.Int("text_length", len(text)))

	if err := s.Messenger.SmartSend(ctx, p.Identifier, s.uploadReply(ctx, p.Identifier), domain.SendOpts{}); err != nil {
		s.Log.Warn("cv reply send failed", slog.Any("error", err))
	}
	return nil
}

// uploadReply tells the user what happened and what's next, with their
// remaining quota.
func (s *CVService) uploadReply(ctx domain.Context, identifier string) string {
	remaining := 0
	if usage, err := s.Usage.Get(ctx, identifier); err == nil {
		remaining = usage.ApplicationsRemaining
	}
	reply := "✅ CV received and read!\n\nNow send me a short cover letter, or type *generate* and I'll write one from your CV."
	if remaining > 0 {
		reply += fmt.Sprintf("\n\nYou have %d application(s) left today.", remaining)
	}
	return reply
}

// fail notifies the user, alerts the operator, and returns the wrapped
// error. Validation classes bump the rejected counter.
func (s *CVService) fail(ctx domain.Context, taskID string, p domain.CVTaskPayload, class string, err error, userMsg string) error {
	if isCVValidation(err) {
		observability.RecordCVRejected(class)
	}
	s.Log.Warn("cv processing failed",
		slog.String("identifier", mask(p.Identifier)),
		slog.String("class", class),
		slog.Int64("size", p.Size),
		slog.String("task_id", taskID),
		slog.Any("error", err))

	if serr := s.Messenger.SmartSend(ctx, p.Identifier, userMsg, domain.SendOpts{}); serr != nil {
		s.Log.Warn("cv failure reply send failed", slog.Any("error", serr))
	}
	alert := fmt.Sprintf(
		"CV processing failed\n\nidentifier: %s\nclass: %s\nsize: %d bytes\ntask: %s\nerror: %v\n",
		mask(p.Identifier), class, p.Size, taskID, err)
	if aerr := s.Mailer.SendAlert(ctx, "CV processing failure: "+class, alert); aerr != nil {
		s.Log.Warn("cv failure alert send failed", slog.Any("error", aerr))
	}
	return fmt.Errorf("op=cv.Process class=%s: %w", class, err)
}
