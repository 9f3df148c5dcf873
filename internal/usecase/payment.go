package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// dayCapQuota is the grant for "unlimited" tiers; the daily usage row zeroes
// at midnight anyway, so this is an effective no-limit for one day.
const dayCapQuota = 999

// HandlePaymentCompleted processes one charge.success notification: verify
// with the provider, grant quota, resume any parked applications. Safe to
// replay; the grant is an upsert keyed on (identifier, today).
func (s *ConversationService) HandlePaymentCompleted(ctx domain.Context, reference string) error {
	pkg, identifier, ok := domain.ParsePaymentReference(reference)
	if !ok {
		observability.RecordPayment("unknown", "foreign_reference")
		return fmt.Errorf("op=payment.HandleCompleted: foreign reference %q: %w", reference, domain.ErrInvalidArgument)
	}

	// older references survive the ledger's current-reference guard, so a
	// delayed redelivery after a fresh purchase must be stopped here. A
	// store error falls through: the ledger still blocks the common replay.
	if seen, err := s.Sessions.PaymentReferenceSeen(ctx, reference); err == nil && seen {
		observability.RecordPayment(string(pkg), "replayed")
		s.Log.Info("payment replay suppressed",
			slog.String("identifier", mask(identifier)),
			slog.String("reference", reference))
		return nil
	}

	v, err := s.Payments.Verify(ctx, reference)
	if err != nil {
		observability.RecordPayment(string(pkg), "verify_error")
		return fmt.Errorf("op=payment.HandleCompleted: %w", err)
	}
	if v.Status != "success" {
		observability.RecordPayment(string(pkg), "not_successful")
		s.Log.Warn("payment not successful, ignoring",
			slog.String("reference", reference),
			slog.String("status", v.Status))
		return nil
	}

	grant := s.grantFor(pkg, v.AmountKobo)
	credited, err := s.Usage.Grant(ctx, identifier, grant, reference)
	if err != nil {
		observability.RecordPayment(string(pkg), "grant_failed")
		return fmt.Errorf("op=payment.HandleCompleted: grant: %w", err)
	}
	if !credited {
		observability.RecordPayment(string(pkg), "replayed")
		s.Log.Info("payment replay suppressed",
			slog.String("identifier", mask(identifier)),
			slog.String("reference", reference))
		return nil
	}
	if err := s.Sessions.MarkPaymentReference(ctx, reference); err != nil {
		s.Log.Warn("payment reference mark failed", slog.Any("error", err))
	}
	observability.RecordPayment(string(pkg), "completed")
	s.Log.Info("payment completed",
		slog.String("identifier", mask(identifier)),
		slog.String("package", string(pkg)),
		slog.Int64("amount_kobo", v.AmountKobo),
		slog.Int("granted", grant))

	pending, ok, _ := s.Sessions.PendingJobs(ctx, identifier)
	if ok && len(pending) > 0 {
		if err := s.send(ctx, identifier,
			fmt.Sprintf("✅ Payment received! Sending your %d saved application(s) now...", len(pending)),
			domain.SendOpts{Kind: domain.KindPaymentInfo}); err != nil {
			s.Log.Warn("payment notify failed", slog.Any("error", err))
		}
		// let the confirmation land before the fan-out status messages
		select {
		case <-time.After(s.ResumeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		return s.applyToJobs(ctx, identifier, pending)
	}

	return s.send(ctx, identifier,
		fmt.Sprintf("✅ Payment received! You now have %d application(s) today. Search for jobs and reply *apply all* when ready.", grant),
		domain.SendOpts{Kind: domain.KindPaymentInfo})
}

// grantFor maps a package and the paid amount to an application count. An
// auto payment at or above twice the standard bundle price is the unlimited
// tier; daily is always day-capped unlimited.
func (s *ConversationService) grantFor(pkg domain.PackageType, amountKobo int64) int {
	switch pkg {
	case domain.PackageDaily:
		return dayCapQuota
	case domain.PackageAuto:
		if s.Cfg.PaymentAmount > 0 && amountKobo >= 2*s.Cfg.PaymentAmount {
			return dayCapQuota
		}
		return s.Cfg.ApplicationsPerPayment
	default:
		return s.Cfg.ApplicationsPerPayment
	}
}
