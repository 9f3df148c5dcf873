package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// UsageRepo is the per-day application quota ledger. Deduct is the hot path
// and must stay a single conditional UPDATE so two concurrent applications
// can never overspend a balance.
type UsageRepo struct{ Pool PgxPool }

// NewUsageRepo constructs a UsageRepo with the given pool.
func NewUsageRepo(p PgxPool) *UsageRepo { return &UsageRepo{Pool: p} }

// Get returns today's usage row for the identifier.
func (r *UsageRepo) Get(ctx domain.Context, identifier string) (domain.DailyUsage, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.Get")
	defer span.End()
	q := `SELECT user_identifier, usage_date, applications_remaining,
			total_applications_today, payment_status, payment_reference
		FROM daily_usage
		WHERE user_identifier=$1 AND usage_date=CURRENT_DATE`
	var u domain.DailyUsage
	err := r.Pool.QueryRow(ctx, q, identifier).Scan(&u.UserIdentifier, &u.UsageDate,
		&u.ApplicationsRemaining, &u.TotalApplicationsToday, &u.PaymentStatus,
		&u.PaymentReference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DailyUsage{}, fmt.Errorf("op=usage.get: %w", domain.ErrNotFound)
		}
		return domain.DailyUsage{}, fmt.Errorf("op=usage.get: %w", err)
	}
	return u, nil
}

// Grant credits applications for today. Repeat purchases mint fresh
// references and accumulate; a replayed reference matches today's row and
// updates nothing, so webhook redeliveries cannot double-credit.
func (r *UsageRepo) Grant(ctx domain.Context, identifier string, applications int, reference string) (bool, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.Grant")
	defer span.End()
	q := `INSERT INTO daily_usage (user_identifier, usage_date, applications_remaining,
			total_applications_today, payment_status, payment_reference)
		VALUES ($1, CURRENT_DATE, $2, 0, $3, $4)
		ON CONFLICT (user_identifier, usage_date) DO UPDATE SET
			applications_remaining = daily_usage.applications_remaining + EXCLUDED.applications_remaining,
			payment_status = EXCLUDED.payment_status,
			payment_reference = EXCLUDED.payment_reference,
			updated_at = now()
		WHERE daily_usage.payment_reference IS DISTINCT FROM EXCLUDED.payment_reference`
	tag, err := r.Pool.Exec(ctx, q, identifier, applications, domain.PaymentCompleted, reference)
	if err != nil {
		return false, fmt.Errorf("op=usage.grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Deduct atomically subtracts n from today's balance. The WHERE clause only
// matches when the balance covers n, so a concurrent deduction that drained
// the balance leaves nothing to update and we report ErrQuotaExceeded.
func (r *UsageRepo) Deduct(ctx domain.Context, identifier string, n int) (int, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.Deduct")
	defer span.End()
	if n <= 0 {
		return 0, fmt.Errorf("op=usage.deduct: %w", domain.ErrInvalidArgument)
	}
	q := `UPDATE daily_usage SET
			applications_remaining = applications_remaining - $2,
			total_applications_today = total_applications_today + $2,
			updated_at = now()
		WHERE user_identifier=$1 AND usage_date=CURRENT_DATE
		  AND payment_status=$3
		  AND applications_remaining >= $2
		RETURNING applications_remaining`
	var remaining int
	err := r.Pool.QueryRow(ctx, q, identifier, n, domain.PaymentCompleted).
		Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("op=usage.deduct: %w", domain.ErrQuotaExceeded)
		}
		return 0, fmt.Errorf("op=usage.deduct: %w", err)
	}
	return remaining, nil
}

// PurgeStale removes usage rows older than keepDays.
func (r *UsageRepo) PurgeStale(ctx domain.Context, keepDays int) (int64, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.PurgeStale")
	defer span.End()
	if keepDays <= 0 {
		keepDays = 30
	}
	tag, err := r.Pool.Exec(ctx,
		`DELETE FROM daily_usage WHERE usage_date < CURRENT_DATE - $1::int`, keepDays)
	if err != nil {
		return 0, fmt.Errorf("op=usage.purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
