package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// ApplicationRepo persists job applications. Rows are append-only: once a
// submission is recorded it only ever advances to email_sent or email_failed.
type ApplicationRepo struct{ Pool PgxPool }

// NewApplicationRepo constructs an ApplicationRepo with the given pool.
func NewApplicationRepo(p PgxPool) *ApplicationRepo { return &ApplicationRepo{Pool: p} }

// Create inserts a new application in submitted state and returns its id.
func (r *ApplicationRepo) Create(ctx domain.Context, a domain.Application) (string, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.Create")
	defer span.End()
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := a.Status
	if status == "" {
		status = domain.ApplicationSubmitted
	}
	q := `INSERT INTO applications (id, user_identifier, job_id, cv_text, cv_score,
			status, applied_at, applicant_name, applicant_email, applicant_phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.Pool.Exec(ctx, q, id, a.UserIdentifier, a.JobID, a.CVText, a.CVScore,
		status, time.Now().UTC(), a.ApplicantName, a.ApplicantEmail, a.ApplicantPhone)
	if err != nil {
		return "", fmt.Errorf("op=applications.create: %w", err)
	}
	return id, nil
}

// MarkEmailSent advances an application to email_sent.
func (r *ApplicationRepo) MarkEmailSent(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.MarkEmailSent")
	defer span.End()
	q := `UPDATE applications SET status=$2, email_sent_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, domain.ApplicationEmailSent, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=applications.mark_sent: %w", err)
	}
	return nil
}

// MarkEmailFailed advances an application to email_failed with the reason.
func (r *ApplicationRepo) MarkEmailFailed(ctx domain.Context, id string, errMsg string) error {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.MarkEmailFailed")
	defer span.End()
	q := `UPDATE applications SET status=$2, error_message=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, domain.ApplicationEmailFailed, errMsg)
	if err != nil {
		return fmt.Errorf("op=applications.mark_failed: %w", err)
	}
	return nil
}

// CountToday reports how many applications the identifier recorded today.
func (r *ApplicationRepo) CountToday(ctx domain.Context, identifier string) (int, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.CountToday")
	defer span.End()
	q := `SELECT COUNT(*) FROM applications
		WHERE user_identifier=$1 AND applied_at >= CURRENT_DATE`
	var n int
	if err := r.Pool.QueryRow(ctx, q, identifier).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=applications.count_today: %w", err)
	}
	return n, nil
}

// DayStats is today's application throughput across all users.
type DayStats struct {
	Submitted int64 `json:"submitted"`
	Sent      int64 `json:"sent"`
	Failed    int64 `json:"failed"`
}

// StatsToday counts today's applications by status for the stats endpoint.
func (r *ApplicationRepo) StatsToday(ctx domain.Context) (DayStats, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.StatsToday")
	defer span.End()
	q := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE status=$1),
		COUNT(*) FILTER (WHERE status=$2)
		FROM applications WHERE applied_at >= CURRENT_DATE`
	var s DayStats
	err := r.Pool.QueryRow(ctx, q, domain.ApplicationEmailSent, domain.ApplicationEmailFailed).
		Scan(&s.Submitted, &s.Sent, &s.Failed)
	if err != nil {
		return DayStats{}, fmt.Errorf("op=applications.stats_today: %w", err)
	}
	return s, nil
}

// PurgeOlderThan deletes applications recorded before the cutoff.
func (r *ApplicationRepo) PurgeOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.PurgeOlderThan")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM applications WHERE applied_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=applications.purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
