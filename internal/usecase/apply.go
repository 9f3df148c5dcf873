package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
	"github.com/Ugoplus/smartcvnaija/pkg/msisdn"
)

// handleApply resolves the positional selection against the last search,
// gates on quota and prerequisites, and enqueues the fan-out.
func (s *ConversationService) handleApply(ctx domain.Context, msg domain.InboundMessage, it domain.Intent) error {
	from := msg.From

	jobs, ok, err := s.Sessions.LastJobs(ctx, from)
	if err != nil {
		s.Log.Warn("last jobs read failed", slog.Any("error", err))
	}
	if !ok || len(jobs) == 0 {
		return s.reply(ctx, msg,
			"🔍 Search for jobs first, e.g. \"developer jobs in Lagos\", then tell me which ones to apply to.",
			domain.SendOpts{})
	}

	selected, bad := selectJobs(jobs, it)
	if len(bad) > 0 {
		return s.reply(ctx, msg,
			fmt.Sprintf("🔢 I only have jobs 1 to %d from your last search. Reply like *apply 1,3* or *apply all*.", len(jobs)),
			domain.SendOpts{})
	}
	if len(selected) == 0 {
		return s.reply(ctx, msg,
			"🔢 Tell me which jobs: *apply 1,3* for specific ones or *apply all*.",
			domain.SendOpts{})
	}

	jobIDs := make([]string, len(selected))
	for i, j := range selected {
		jobIDs[i] = j.ID
	}

	// No quota for today means the payment flow, with the selection parked
	// until the webhook confirms.
	usage, err := s.Usage.Get(ctx, from)
	needsPayment := false
	switch {
	case isNotFound(err):
		needsPayment = true
	case err != nil:
		s.Log.Error("usage read failed", slog.Any("error", err))
		return s.send(ctx, from, "😓 I couldn't check your balance just now. Please try again.", domain.SendOpts{})
	case usage.ApplicationsRemaining == 0:
		needsPayment = true
	}
	if needsPayment {
		return s.requestPayment(ctx, msg, jobIDs)
	}

	if _, ok, _ := s.Sessions.CVMeta(ctx, from); !ok {
		return s.reply(ctx, msg,
			"📄 I need your CV first. Please send it as a PDF or DOCX document.",
			domain.SendOpts{})
	}
	if _, ok, _ := s.Sessions.CoverLetter(ctx, from); !ok {
		if err := s.Sessions.SetPendingJobs(ctx, from, jobIDs); err != nil {
			s.Log.Warn("pending jobs store failed", slog.Any("error", err))
		}
		if err := s.Sessions.SetState(ctx, from, domain.StateAwaitingCoverLetter); err != nil {
			s.Log.Warn("state store failed", slog.Any("error", err))
		}
		return s.reply(ctx, msg,
			"✍️ Almost there! Send me a short cover letter, or type *generate* and I'll write one from your CV.",
			domain.SendOpts{})
	}
	if usage.ApplicationsRemaining < len(jobIDs) {
		return s.reply(ctx, msg,
			fmt.Sprintf("⚖️ You have %d application(s) left today but picked %d jobs. Apply to fewer, or pay for a new bundle with *apply all* tomorrow.",
				usage.ApplicationsRemaining, len(jobIDs)),
			domain.SendOpts{})
	}

	return s.applyToJobs(ctx, from, jobIDs)
}

// applyToJobs deducts quota atomically and enqueues one fan-out batch. The
// deduction happens before the enqueue; an enqueue failure refunds it.
func (s *ConversationService) applyToJobs(ctx domain.Context, from string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	if d := s.Limits.Check(ctx, from, ratelimiter.ActionApplication); !d.Allowed {
		return s.send(ctx, from, d.Message, domain.SendOpts{Kind: domain.KindInstant})
	}

	if _, err := s.Usage.Deduct(ctx, from, len(jobIDs)); err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			return s.send(ctx, from,
				fmt.Sprintf("⚖️ Your balance can't cover %d applications. Check *status* and pick fewer jobs.", len(jobIDs)),
				domain.SendOpts{})
		}
		s.Log.Error("quota deduct failed", slog.Any("error", err))
		return s.send(ctx, from, "😓 I couldn't reserve your applications just now. Please try again.", domain.SendOpts{})
	}

	batch := domain.ApplicationTaskPayload{
		BatchID:    uuid.NewString(),
		Identifier: from,
		JobIDs:     jobIDs,
	}
	if _, err := s.Queue.EnqueueApplications(ctx, batch); err != nil {
		s.Log.Error("application enqueue failed", slog.Any("error", err))
		// give the reserved quota back; the fan-out never started
		if _, gerr := s.Usage.Grant(ctx, from, len(jobIDs), "refund_"+batch.BatchID); gerr != nil {
			s.Log.Error("quota refund failed", slog.Any("error", gerr))
		}
		return s.send(ctx, from, "😓 Something went wrong queuing your applications. Please try again.", domain.SendOpts{})
	}

	if err := s.Sessions.ClearPendingJobs(ctx, from); err != nil {
		s.Log.Warn("pending jobs clear failed", slog.Any("error", err))
	}
	if err := s.Sessions.SetState(ctx, from, domain.StateApplying); err != nil {
		s.Log.Warn("state store failed", slog.Any("error", err))
	}

	return s.send(ctx, from,
		fmt.Sprintf("🚀 Applying to %d job(s) now! I'll message you once the applications are out.", len(jobIDs)),
		domain.SendOpts{Kind: domain.KindProcessing})
}

// requestPayment stashes the selection and replies with a checkout link.
func (s *ConversationService) requestPayment(ctx domain.Context, msg domain.InboundMessage, jobIDs []string) error {
	from := msg.From
	if err := s.Sessions.SetPendingJobs(ctx, from, jobIDs); err != nil {
		s.Log.Error("pending jobs store failed", slog.Any("error", err))
	}

	ref := domain.NewPaymentReference(domain.PackageAuto, from, time.Now())
	link, err := s.Payments.Initialize(ctx, domain.PaymentRequest{
		Reference:   ref,
		Email:       s.paymentEmail(ctx, from),
		AmountKobo:  s.Cfg.PaymentAmount,
		CallbackURL: s.Cfg.BaseURL + "/payment/success",
		Metadata: map[string]string{
			"identifier": from,
			"package":    string(domain.PackageAuto),
			"jobs":       fmt.Sprintf("%d", len(jobIDs)),
		},
	})
	if err != nil {
		observability.RecordPayment(string(domain.PackageAuto), "init_failed")
		s.Log.Error("payment init failed", slog.Any("error", err))
		return s.send(ctx, from, "😓 I couldn't start a payment just now. Please try again in a minute.", domain.SendOpts{})
	}
	observability.RecordPayment(string(domain.PackageAuto), "initialized")

	return s.reply(ctx, msg, fmt.Sprintf(
		"💳 You've used up today's free applications.\n\n%d application(s) cost ₦%d. Pay here and I'll send your %d saved application(s) automatically:\n\n%s",
		s.Cfg.ApplicationsPerPayment, s.Cfg.PaymentAmount/100, len(jobIDs), link.AuthorizationURL),
		domain.SendOpts{Kind: domain.KindPaymentInfo})
}

// paymentEmail prefers the address stored in the session; the provider
// requires one, so fall back to a synthetic per-identifier address.
func (s *ConversationService) paymentEmail(ctx domain.Context, from string) string {
	if email, ok, _ := s.Sessions.Email(ctx, from); ok && email != "" {
		return email
	}
	return from + "@smartcvnaija.com.ng"
}

// selectJobs maps intent positions onto the presented list. bad collects
// out-of-range numbers.
func selectJobs(jobs []domain.JobListing, it domain.Intent) (selected []domain.JobListing, bad []int) {
	if it.ApplyAll {
		return jobs, nil
	}
	seen := make(map[int]bool, len(it.JobNumbers))
	for _, n := range it.JobNumbers {
		if n < 1 || n > len(jobs) {
			bad = append(bad, n)
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		selected = append(selected, jobs[n-1])
	}
	return selected, bad
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

func isCVValidation(err error) bool { return errors.Is(err, domain.ErrCVValidation) }

func mask(identifier string) string { return msisdn.Mask(identifier) }
