// Package usecase contains the application services behind the WhatsApp
// broker: the conversation orchestrator, the CV pipeline, and the
// application fan-out.
package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/coverletter"
	"github.com/Ugoplus/smartcvnaija/internal/service/identity"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
	"github.com/Ugoplus/smartcvnaija/internal/service/session"
)

const searchLimit = 10

// ConversationService is the per-message state machine. Webhook handlers
// feed it inbound events; it talks back through the messenger and hands
// heavy work to the queues.
type ConversationService struct {
	Sessions   *session.Manager
	Limits     *ratelimiter.Limiter
	Intents    *intent.Resolver
	Letters    *coverletter.Generator
	Identities *identity.Extractor

	Listings  domain.ListingRepository
	Apps      domain.ApplicationRepository
	Usage     domain.UsageRepository
	Queue     domain.Queue
	Messenger domain.Messenger
	Payments  domain.PaymentProvider

	Cfg config.Config
	Log *slog.Logger

	// ResumeDelay spaces the auto-apply that follows a payment so the user
	// reads the confirmation first. Tests zero it.
	ResumeDelay time.Duration
}

// NewConversationService fills defaults on a field-wise constructed service.
func NewConversationService(s ConversationService) *ConversationService {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	if s.ResumeDelay == 0 {
		s.ResumeDelay = 2 * time.Second
	}
	return &s
}

// HandleText runs one inbound text event through the state machine.
func (s *ConversationService) HandleText(ctx domain.Context, msg domain.InboundMessage) error {
	from, text := msg.From, strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	if d := s.Limits.Check(ctx, from, ratelimiter.ActionMessage); !d.Allowed {
		return s.send(ctx, from, d.Message, domain.SendOpts{Kind: domain.KindInstant})
	}
	if err := s.Sessions.AppendTurn(ctx, from, "user", text); err != nil {
		s.Log.Warn("conversation append failed", slog.Any("error", err))
	}

	state, err := s.Sessions.State(ctx, from)
	if err != nil {
		s.Log.Warn("session state read failed", slog.Any("error", err))
		state = domain.StateIdle
	}
	if state == domain.StateAwaitingCoverLetter {
		return s.captureCoverLetter(ctx, msg, text)
	}

	history, _, _ := s.Sessions.Conversation(ctx, from)
	it := s.Intents.Resolve(ctx, text, history)

	switch it.Action {
	case domain.IntentGreeting, domain.IntentHelp, domain.IntentAboutService,
		domain.IntentChat, domain.IntentClarify, domain.IntentUnknown:
		return s.reply(ctx, msg, it.Response, domain.SendOpts{})
	case domain.IntentReset:
		return s.handleReset(ctx, msg)
	case domain.IntentStatus:
		return s.handleStatus(ctx, msg)
	case domain.IntentSearchJobs:
		return s.handleSearch(ctx, msg, it.Filters)
	case domain.IntentApplyJob:
		return s.handleApply(ctx, msg, it)
	case domain.IntentGenerate:
		return s.requestGeneratedLetter(ctx, msg)
	default:
		return s.reply(ctx, msg, helpHint, domain.SendOpts{})
	}
}

// HandleDocument downloads an inbound CV and hands it to the processing
// queue. The reply promises progress; the worker reports the outcome.
func (s *ConversationService) HandleDocument(ctx domain.Context, msg domain.InboundMessage) error {
	from := msg.From
	if msg.Document == nil {
		return nil
	}

	if d := s.Limits.Check(ctx, from, ratelimiter.ActionCVUpload); !d.Allowed {
		return s.send(ctx, from, d.Message, domain.SendOpts{Kind: domain.KindInstant})
	}

	maxBytes := s.Cfg.MaxCVBytes()
	if msg.Document.FileSize > maxBytes {
		observability.RecordCVRejected("too_large")
		return s.send(ctx, from,
			fmt.Sprintf("📄 That file is too large. Please send a CV under %d MB.", s.Cfg.MaxCVMB),
			domain.SendOpts{Kind: domain.KindInstant})
	}

	if d := s.Limits.Check(ctx, from, ratelimiter.ActionFileDownload); !d.Allowed {
		return s.send(ctx, from, d.Message, domain.SendOpts{Kind: domain.KindInstant})
	}

	data, mime, err := s.Messenger.DownloadMedia(ctx, *msg.Document, maxBytes)
	if err != nil {
		s.Log.Warn("media download failed",
			slog.String("identifier", mask(from)), slog.Any("error", err))
		return s.send(ctx, from,
			"📄 I couldn't download that file. Please resend your CV as a PDF or DOCX.",
			domain.SendOpts{Kind: domain.KindInstant})
	}

	payload := domain.CVTaskPayload{
		Identifier: from,
		Filename:   msg.Document.Filename,
		MimeType:   mime,
		Size:       int64(len(data)),
		Data:       data,
	}
	if _, err := s.Queue.EnqueueCV(ctx, payload); err != nil {
		s.Log.Error("cv enqueue failed", slog.Any("error", err))
		return s.send(ctx, from,
			"😓 Something went wrong on our side. Please resend your CV in a moment.",
			domain.SendOpts{Kind: domain.KindInstant})
	}

	return s.send(ctx, from,
		"📄 Got your CV! Give me a moment to read through it...",
		domain.SendOpts{Kind: domain.KindProcessing, InboundMessageID: msg.MessageID})
}

// HandleUnsupportedMedia answers images, audio and video with the formats we
// can actually read.
func (s *ConversationService) HandleUnsupportedMedia(ctx domain.Context, msg domain.InboundMessage) error {
	return s.send(ctx, msg.From,
		"🙈 I can only read CVs sent as PDF or DOCX documents. Please attach your CV as a file, not a photo.",
		domain.SendOpts{Kind: domain.KindInstant})
}

// captureCoverLetter consumes the next message while awaiting_cover_letter:
// "generate" defers to the AI queue, anything else is the letter verbatim.
func (s *ConversationService) captureCoverLetter(ctx domain.Context, msg domain.InboundMessage, text string) error {
	from := msg.From
	if strings.EqualFold(strings.TrimSpace(text), "generate") {
		return s.requestGeneratedLetter(ctx, msg)
	}

	if err := s.Sessions.SetCoverLetter(ctx, from, text); err != nil {
		s.Log.Error("cover letter store failed", slog.Any("error", err))
		return s.send(ctx, from, "😓 I couldn't save that just now. Please send it again.", domain.SendOpts{})
	}
	if err := s.Sessions.SetState(ctx, from, domain.StateIdle); err != nil {
		s.Log.Warn("state reset failed", slog.Any("error", err))
	}

	pending, ok, _ := s.Sessions.PendingJobs(ctx, from)
	if ok && len(pending) > 0 {
		if err := s.reply(ctx, msg, "✍️ Cover letter saved! Continuing with your applications...", domain.SendOpts{}); err != nil {
			return err
		}
		return s.applyToJobs(ctx, from, pending)
	}
	return s.reply(ctx, msg,
		"✍️ Cover letter saved! Now search for jobs, e.g. \"developer jobs in Lagos\".",
		domain.SendOpts{})
}

// requestGeneratedLetter queues AI cover letter synthesis from the stored CV.
func (s *ConversationService) requestGeneratedLetter(ctx domain.Context, msg domain.InboundMessage) error {
	from := msg.From
	if _, ok, _ := s.Sessions.CVText(ctx, from); !ok {
		return s.reply(ctx, msg,
			"📄 I need your CV before I can write a cover letter. Please send it as PDF or DOCX.",
			domain.SendOpts{})
	}
	if d := s.Limits.Check(ctx, from, ratelimiter.ActionAICall); !d.Allowed {
		return s.send(ctx, from, d.Message, domain.SendOpts{Kind: domain.KindInstant})
	}
	if _, err := s.Queue.EnqueueAI(ctx, domain.AITaskPayload{
		Kind:       domain.AITaskCoverLetter,
		Identifier: from,
	}); err != nil {
		s.Log.Error("ai task enqueue failed", slog.Any("error", err))
		return s.send(ctx, from, "😓 I couldn't start that just now. Please try again.", domain.SendOpts{})
	}
	return s.send(ctx, from,
		"🤖 Writing your cover letter now, give me a minute...",
		domain.SendOpts{Kind: domain.KindProcessing, InboundMessageID: msg.MessageID})
}

// GenerateCoverLetter is the openai-tasks worker entrypoint: synthesize a
// letter from the session CV, store it, and resume any pending applications.
func (s *ConversationService) GenerateCoverLetter(ctx domain.Context, identifier string) error {
	text, ok, err := s.Sessions.CVText(ctx, identifier)
	if err != nil {
		return fmt.Errorf("op=conversation.GenerateCoverLetter: %w", err)
	}
	if !ok {
		return s.send(ctx, identifier,
			"📄 Your CV session expired. Please upload your CV again first.",
			domain.SendOpts{})
	}

	name := s.Identities.Extract(text).Name
	letter := s.Letters.Generate(ctx, text, name, domain.JobListing{Title: "advertised"})

	if err := s.Sessions.SetCoverLetter(ctx, identifier, letter); err != nil {
		return fmt.Errorf("op=conversation.GenerateCoverLetter: %w", err)
	}
	if err := s.Sessions.SetState(ctx, identifier, domain.StateIdle); err != nil {
		s.Log.Warn("state reset failed", slog.Any("error", err))
	}

	preview := fmt.Sprintf("✍️ Here's your cover letter:\n\n%s\n\nI'll tailor it for every job you apply to. Reply with your own text anytime to replace it.", letter)
	if err := s.send(ctx, identifier, preview, domain.SendOpts{}); err != nil {
		s.Log.Warn("letter preview send failed", slog.Any("error", err))
	}

	pending, ok, _ := s.Sessions.PendingJobs(ctx, identifier)
	if ok && len(pending) > 0 {
		return s.applyToJobs(ctx, identifier, pending)
	}
	return nil
}

func (s *ConversationService) handleReset(ctx domain.Context, msg domain.InboundMessage) error {
	if err := s.Sessions.Reset(ctx, msg.From); err != nil {
		s.Log.Error("session reset failed", slog.Any("error", err))
		return s.send(ctx, msg.From, "😓 Reset failed, please try again.", domain.SendOpts{Kind: domain.KindInstant})
	}
	return s.reply(ctx, msg,
		"🧹 All cleared! Your CV, cover letter and job list are gone. Send a fresh CV to start over.",
		domain.SendOpts{Kind: domain.KindInstant})
}

func (s *ConversationService) handleStatus(ctx domain.Context, msg domain.InboundMessage) error {
	from := msg.From
	var b strings.Builder
	b.WriteString("📊 *Your status*\n")

	if meta, ok, _ := s.Sessions.CVMeta(ctx, from); ok {
		fmt.Fprintf(&b, "• CV: %s ✅\n", meta.Filename)
	} else {
		b.WriteString("• CV: not uploaded\n")
	}
	if _, ok, _ := s.Sessions.CoverLetter(ctx, from); ok {
		b.WriteString("• Cover letter: ready ✅\n")
	} else {
		b.WriteString("• Cover letter: not set\n")
	}

	remaining := 0
	usage, err := s.Usage.Get(ctx, from)
	switch {
	case err == nil:
		remaining = usage.ApplicationsRemaining
	case !isNotFound(err):
		s.Log.Warn("usage read failed", slog.Any("error", err))
	}
	fmt.Fprintf(&b, "• Applications left today: %d\n", remaining)

	if sent, err := s.Apps.CountToday(ctx, from); err == nil && sent > 0 {
		fmt.Fprintf(&b, "• Applications sent today: %d\n", sent)
	}
	if jobs, ok, _ := s.Sessions.LastJobs(ctx, from); ok && len(jobs) > 0 {
		fmt.Fprintf(&b, "• Last search: %d jobs (reply \"apply 1\" to use them)\n", len(jobs))
	}
	return s.reply(ctx, msg, b.String(), domain.SendOpts{})
}

func (s *ConversationService) handleSearch(ctx domain.Context, msg domain.InboundMessage, f domain.JobFilters) error {
	from := msg.From
	if d := s.Limits.Check(ctx, from, ratelimiter.ActionJobSearch); !d.Allowed {
		return s.send(ctx, from, d.Message, domain.SendOpts{Kind: domain.KindInstant})
	}

	jobs, err := s.Listings.Search(ctx, f, searchLimit)
	if err != nil {
		s.Log.Error("job search failed", slog.Any("error", err))
		return s.send(ctx, from, "😓 Search is unavailable right now, please try again shortly.", domain.SendOpts{})
	}
	if len(jobs) == 0 {
		return s.reply(ctx, msg, noResultsReply(f), domain.SendOpts{})
	}

	if err := s.Sessions.SetLastJobs(ctx, from, jobs); err != nil {
		s.Log.Warn("last jobs store failed", slog.Any("error", err))
	}
	if err := s.Sessions.SetState(ctx, from, domain.StateBrowsingJobs); err != nil {
		s.Log.Warn("state store failed", slog.Any("error", err))
	}

	if cached, ok, _ := s.Sessions.CachedSearch(ctx, f); ok {
		return s.reply(ctx, msg, cached, domain.SendOpts{Kind: domain.KindSearchResults})
	}
	formatted := formatJobList(jobs, f)
	if err := s.Sessions.CacheSearch(ctx, f, formatted); err != nil {
		s.Log.Warn("search cache store failed", slog.Any("error", err))
	}
	return s.reply(ctx, msg, formatted, domain.SendOpts{Kind: domain.KindSearchResults})
}

// reply sends and records the assistant turn so the AI resolver sees both
// sides of the conversation.
func (s *ConversationService) reply(ctx domain.Context, msg domain.InboundMessage, text string, opts domain.SendOpts) error {
	if opts.InboundMessageID == "" {
		opts.InboundMessageID = msg.MessageID
	}
	if err := s.Sessions.AppendTurn(ctx, msg.From, "assistant", text); err != nil {
		s.Log.Warn("conversation append failed", slog.Any("error", err))
	}
	return s.send(ctx, msg.From, text, opts)
}

func (s *ConversationService) send(ctx domain.Context, to, text string, opts domain.SendOpts) error {
	if err := s.Messenger.SmartSend(ctx, to, text, opts); err != nil {
		s.Log.Error("send failed", slog.String("identifier", mask(to)), slog.Any("error", err))
		return fmt.Errorf("op=conversation.send: %w", err)
	}
	return nil
}

const helpHint = "🤔 I didn't get that. Try \"developer jobs in Lagos\", send your CV as a PDF, or type *help*."

func formatJobList(jobs []domain.JobListing, f domain.JobFilters) string {
	var b strings.Builder
	if f.Title != "" {
		fmt.Fprintf(&b, "🔍 Found %d %s jobs", len(jobs), f.Title)
	} else {
		fmt.Fprintf(&b, "🔍 Found %d jobs", len(jobs))
	}
	if f.Location != "" {
		fmt.Fprintf(&b, " in %s", f.Location)
	}
	b.WriteString(":\n\n")
	for i, j := range jobs {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, j.Title)
		if j.Company != "" {
			fmt.Fprintf(&b, "   %s", j.Company)
		}
		switch {
		case j.IsRemote:
			b.WriteString(" · Remote 🏠")
		case j.Location != "":
			fmt.Fprintf(&b, " · %s", j.Location)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReply *apply 1,3* for specific jobs or *apply all* for everything.")
	return b.String()
}

func noResultsReply(f domain.JobFilters) string {
	var b strings.Builder
	b.WriteString("😕 No open roles found")
	if f.Title != "" {
		fmt.Fprintf(&b, " for %q", f.Title)
	}
	if f.Location != "" {
		fmt.Fprintf(&b, " in %s", f.Location)
	}
	b.WriteString(". Try a broader title, another state, or \"remote jobs\".")
	return b.String()
}
