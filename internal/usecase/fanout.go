package usecase

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/coverletter"
	"github.com/Ugoplus/smartcvnaija/internal/service/extraction"
	"github.com/Ugoplus/smartcvnaija/internal/service/identity"
	"github.com/Ugoplus/smartcvnaija/internal/service/scoring"
	"github.com/Ugoplus/smartcvnaija/internal/service/session"
	"github.com/Ugoplus/smartcvnaija/internal/service/uploads"
)

const sendBatchSize = 3

// ApplicationService fans one paid batch out to recruiters: re-read the CV,
// extract the applicant identity, write one application row per job, then
// deliver the emails and the applicant-facing summaries.
type ApplicationService struct {
	Sessions   *session.Manager
	Extractor  *extraction.Service
	Identities *identity.Extractor
	Letters    *coverletter.Generator
	Scores     *scoring.Scorer
	Uploads    *uploads.Manager
	Listings   domain.ListingRepository
	Apps       domain.ApplicationRepository
	Messenger  domain.Messenger
	Mailer     domain.Mailer

	Cfg config.Config
	Log *slog.Logger

	// BatchPause separates send batches; CleanupAfter delays the CV binary
	// deletion so background re-processing can still reach it.
	BatchPause   time.Duration
	CleanupAfter time.Duration
}

// NewApplicationService fills defaults on a field-wise constructed service.
func NewApplicationService(s ApplicationService) *ApplicationService {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	if s.BatchPause <= 0 {
		s.BatchPause = 1500 * time.Millisecond
	}
	if s.CleanupAfter <= 0 {
		s.CleanupAfter = 10 * time.Minute
	}
	return &s
}

// fanoutJob carries one job through the letter, score, row and send stages.
type fanoutJob struct {
	listing domain.JobListing
	letter  string
	score   int
	rowID   string
	sent    bool
	sendErr string
}

// Fanout processes one job-applications task. Identity failures return
// domain.ErrCVValidation so the handler refuses the retry; infrastructure
// failures are retryable.
func (s *ApplicationService) Fanout(ctx domain.Context, taskID string, p domain.ApplicationTaskPayload, progress ProgressFunc) error {
	step := func(percent int, note string) {
		if progress != nil {
			progress(percent, note)
		}
	}

	ref, ok, err := s.Sessions.CVFile(ctx, p.Identifier)
	if err != nil {
		return fmt.Errorf("op=fanout.cv_file: %w", err)
	}
	if !ok {
		s.notify(ctx, p.Identifier, "😓 Your CV is no longer on file. Please upload it again and retry your applications.")
		return fmt.Errorf("op=fanout.cv_file: %w: no stored cv for batch %s", domain.ErrNotFound, p.BatchID)
	}
	data, err := s.Uploads.Read(ref.Path)
	if err != nil {
		s.notify(ctx, p.Identifier, "😓 Your CV is no longer on file. Please upload it again and retry your applications.")
		return fmt.Errorf("op=fanout.cv_read: %w", err)
	}
	step(10, "cv binary verified")

	text, err := s.cvText(ctx, p.Identifier, ref, data)
	if err != nil {
		return err
	}
	step(30, "cv text ready")

	id := s.Identities.Extract(text)
	if err := s.Identities.Validate(id); err != nil {
		observability.RecordCVRejected("identity")
		s.notify(ctx, p.Identifier,
			"📄 I couldn't find your name and contact details on the CV. Please make sure they appear near the top, then upload it again.")
		return fmt.Errorf("op=fanout.identity batch=%s: %w", p.BatchID, err)
	}

	listings, err := s.Listings.GetByIDs(ctx, p.JobIDs)
	if err != nil {
		return fmt.Errorf("op=fanout.listings: %w", err)
	}
	jobs := orderJobs(p.JobIDs, listings)
	if len(jobs) == 0 {
		s.notify(ctx, p.Identifier, "😕 Those jobs are no longer available. Please search again and pick fresh ones.")
		return nil
	}

	// A letter the user wrote wins verbatim for every job; otherwise each
	// job gets its own generated one.
	sessionLetter, _, err := s.Sessions.CoverLetter(ctx, p.Identifier)
	if err != nil {
		s.Log.Warn("cover letter lookup failed", slog.Any("error", err))
	}
	for i := range jobs {
		if sessionLetter != "" {
			jobs[i].letter = sessionLetter
			continue
		}
		jobs[i].letter = s.Letters.Generate(ctx, text, id.Name, jobs[i].listing)
	}
	step(50, "cover letters ready")

	for i := range jobs {
		jobs[i].score = s.Scores.Score(ctx, text, jobs[i].listing)
		rowID, err := s.Apps.Create(ctx, domain.Application{
			UserIdentifier: p.Identifier,
			JobID:          jobs[i].listing.ID,
			CVText:         text,
			CVScore:        jobs[i].score,
			Status:         domain.ApplicationSubmitted,
			ApplicantName:  id.Name,
			ApplicantEmail: id.Email,
			ApplicantPhone: id.Phone,
		})
		if err != nil {
			return fmt.Errorf("op=fanout.create_row: %w", err)
		}
		jobs[i].rowID = rowID
	}
	step(70, "applications recorded")

	if err := s.sendAll(ctx, jobs, id, ref, data); err != nil {
		return err
	}
	step(85, "recruiter emails sent")

	s.sendConfirmation(ctx, id, jobs)
	step(95, "confirmation sent")

	s.notify(ctx, p.Identifier, fanoutSummary(jobs, id.Email))
	if err := s.Sessions.SetState(ctx, p.Identifier, domain.StateIdle); err != nil {
		s.Log.Warn("state store failed", slog.Any("error", err))
	}
	s.Uploads.ScheduleDelete(ref.Path, s.CleanupAfter)
	step(100, "done")

	sent := 0
	for i := range jobs {
		if jobs[i].sent {
			sent++
		}
	}
	s.Log.Info("application batch done",
		slog.String("identifier", mask(p.Identifier)),
		slog.String("batch_id", p.BatchID),
		slog.String("task_id", taskID),
		slog.Int("jobs", len(jobs)),
		slog.Int("sent", sent))

	if sent == 0 {
		body := fmt.Sprintf(
			"All recruiter emails failed for a batch\n\nidentifier: %s\nbatch: %s\njobs: %d\n",
			mask(p.Identifier), p.BatchID, len(jobs))
		if aerr := s.Mailer.SendAlert(ctx, "Application batch: all sends failed", body); aerr != nil {
			s.Log.Warn("fanout alert send failed", slog.Any("error", aerr))
		}
	}
	return nil
}

// cvText prefers the cleaned session text and re-extracts from the stored
// binary when the session has expired it.
func (s *ApplicationService) cvText(ctx domain.Context, identifier string, ref domain.FileRef, data []byte) (string, error) {
	if text, ok, err := s.Sessions.CVText(ctx, identifier); err == nil && ok && text != "" {
		return text, nil
	}
	format, err := s.Extractor.Detect(data, ref.OriginalName, ref.MimeType)
	if err != nil {
		return "", fmt.Errorf("op=fanout.detect: %w", err)
	}
	text, err := s.Extractor.Extract(ctx, data, format)
	if err != nil {
		return "", fmt.Errorf("op=fanout.extract: %w", err)
	}
	if serr := s.Sessions.SetCVText(ctx, identifier, text); serr != nil {
		s.Log.Warn("cv text store failed", slog.Any("error", serr))
	}
	return text, nil
}

// sendAll delivers recruiter emails in batches of three, concurrent within a
// batch, pausing between batches. Row status advances per email and is never
// rolled back.
func (s *ApplicationService) sendAll(ctx domain.Context, jobs []fanoutJob, id domain.Identity, ref domain.FileRef, data []byte) error {
	attachment := domain.MailAttachment{
		Filename: attachmentName(ref),
		MimeType: ref.MimeType,
		Data:     data,
	}
	for start := 0; start < len(jobs); start += sendBatchSize {
		end := start + sendBatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(j *fanoutJob) {
				defer wg.Done()
				s.sendOne(ctx, j, id, attachment)
			}(&jobs[i])
		}
		wg.Wait()
		if end < len(jobs) {
			select {
			case <-time.After(s.BatchPause):
			case <-ctx.Done():
				return fmt.Errorf("op=fanout.send: %w", ctx.Err())
			}
		}
	}
	return nil
}

func (s *ApplicationService) sendOne(ctx domain.Context, j *fanoutJob, id domain.Identity, attachment domain.MailAttachment) {
	if j.listing.Email == "" {
		j.sendErr = "listing has no recruiter email"
		s.markFailed(ctx, j)
		return
	}
	err := s.Mailer.SendApplication(ctx, domain.MailMessage{
		To:          []string{j.listing.Email},
		ReplyTo:     id.Email,
		Subject:     fmt.Sprintf("Application for %s - %s", j.listing.Title, id.Name),
		TextBody:    recruiterBody(j.letter, id),
		Attachments: []domain.MailAttachment{attachment},
	})
	if err != nil {
		j.sendErr = err.Error()
		s.markFailed(ctx, j)
		return
	}
	j.sent = true
	observability.RecordApplication(string(domain.ApplicationEmailSent))
	if merr := s.Apps.MarkEmailSent(ctx, j.rowID); merr != nil {
		s.Log.Warn("mark sent failed", slog.String("row_id", j.rowID), slog.Any("error", merr))
	}
}

func (s *ApplicationService) markFailed(ctx domain.Context, j *fanoutJob) {
	observability.RecordApplication(string(domain.ApplicationEmailFailed))
	s.Log.Warn("recruiter email failed",
		slog.String("row_id", j.rowID),
		slog.String("job_id", j.listing.ID),
		slog.String("error", j.sendErr))
	if merr := s.Apps.MarkEmailFailed(ctx, j.rowID, j.sendErr); merr != nil {
		s.Log.Warn("mark failed failed", slog.String("row_id", j.rowID), slog.Any("error", merr))
	}
}

// sendConfirmation mails the applicant a per-job outcome summary. A send
// failure here never fails the batch.
func (s *ApplicationService) sendConfirmation(ctx domain.Context, id domain.Identity, jobs []fanoutJob) {
	if id.Email == "" {
		s.Log.Info("skipping confirmation email, no applicant address")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nHere is the status of your job applications:\n\n", id.Name)
	for i := range jobs {
		mark := "sent"
		if !jobs[i].sent {
			mark = "could not be delivered"
		}
		fmt.Fprintf(&b, "- %s at %s: %s\n", jobs[i].listing.Title, jobs[i].listing.Company, mark)
	}
	b.WriteString("\nRecruiters will reply directly to this address. Good luck!\n")
	err := s.Mailer.SendConfirmation(ctx, domain.MailMessage{
		To:       []string{id.Email},
		Subject:  "Your job applications",
		TextBody: b.String(),
	})
	if err != nil {
		s.Log.Warn("confirmation email failed", slog.Any("error", err))
	}
}

func (s *ApplicationService) notify(ctx domain.Context, identifier, text string) {
	if err := s.Messenger.SmartSend(ctx, identifier, text, domain.SendOpts{}); err != nil {
		s.Log.Warn("fanout notify failed",
			slog.String("identifier", mask(identifier)), slog.Any("error", err))
	}
}

// orderJobs arranges found listings in the order the user picked them;
// expired or deleted listings drop out.
func orderJobs(ids []string, listings []domain.JobListing) []fanoutJob {
	byID := make(map[string]domain.JobListing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}
	jobs := make([]fanoutJob, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			jobs = append(jobs, fanoutJob{listing: l})
		}
	}
	return jobs
}

func recruiterBody(letter string, id domain.Identity) string {
	var b strings.Builder
	b.WriteString(letter)
	b.WriteString("\n\n---\nApplicant contact\n")
	fmt.Fprintf(&b, "Name: %s\n", id.Name)
	if id.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", id.Email)
	}
	if id.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", id.Phone)
	}
	b.WriteString("\nThe applicant's CV is attached. Reply to this email to reach them directly.\n")
	return b.String()
}

func attachmentName(ref domain.FileRef) string {
	if ref.OriginalName != "" {
		return ref.OriginalName
	}
	return "cv" + strings.ToLower(filepath.Ext(ref.Path))
}

func fanoutSummary(jobs []fanoutJob, applicantEmail string) string {
	sent := 0
	var b strings.Builder
	b.WriteString("🚀 Application results:\n\n")
	for i := range jobs {
		mark := "✅"
		if !jobs[i].sent {
			mark = "❌"
		} else {
			sent++
		}
		fmt.Fprintf(&b, "%s %s at %s\n", mark, jobs[i].listing.Title, jobs[i].listing.Company)
	}
	switch {
	case sent == 0:
		b.WriteString("\n😓 None of the emails went through. Your application credits were used, so please contact support and we'll sort it out.")
	case applicantEmail != "":
		fmt.Fprintf(&b, "\n📧 A confirmation was sent to %s. Recruiters will reply there directly.", applicantEmail)
	default:
		b.WriteString("\n📧 Recruiters now have your CV and will reach out directly.")
	}
	return b.String()
}
