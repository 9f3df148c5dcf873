package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// PgxPool is the minimal pool surface the repositories need; *pgxpool.Pool
// satisfies it and tests substitute a stub.
type PgxPool interface {
	Exec(ctx domain.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx domain.Context, sql string, args ...any) pgx.Row
	Query(ctx domain.Context, sql string, args ...any) (pgx.Rows, error)
}

const listingColumns = `id, title, company, location, state, is_remote, email,
	description, requirements, experience, category, source, external_id,
	scraped_at, last_updated, expires_at`

// ListingRepo persists and searches job listings.
type ListingRepo struct{ Pool PgxPool }

// NewListingRepo constructs a ListingRepo with the given pool.
func NewListingRepo(p PgxPool) *ListingRepo { return &ListingRepo{Pool: p} }

// Search returns non-expired listings matching the filters, newest first.
// The location filter also admits remote listings since those are workable
// from any state.
func (r *ListingRepo) Search(ctx domain.Context, f domain.JobFilters, limit int) ([]domain.JobListing, error) {
	tracer := otel.Tracer("repo.listings")
	ctx, span := tracer.Start(ctx, "listings.Search")
	defer span.End()
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + listingColumns + ` FROM jobs
		WHERE expires_at > now()
		  AND ($1 = '' OR title ILIKE '%'||$1||'%' OR company ILIKE '%'||$1||'%' OR category ILIKE '%'||$1||'%' OR description ILIKE '%'||$1||'%')
		  AND ($2 = '' OR state ILIKE $2 OR location ILIKE '%'||$2||'%' OR is_remote)
		  AND ($3::boolean IS NULL OR is_remote = $3)
		ORDER BY COALESCE(last_updated, scraped_at) DESC
		LIMIT $4`
	rows, err := r.Pool.Query(ctx, q, f.Title, f.Location, f.Remote, limit)
	if err != nil {
		return nil, fmt.Errorf("op=listings.search: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// GetByIDs loads listings by id, skipping ids that no longer exist.
func (r *ListingRepo) GetByIDs(ctx domain.Context, ids []string) ([]domain.JobListing, error) {
	tracer := otel.Tracer("repo.listings")
	ctx, span := tracer.Start(ctx, "listings.GetByIDs")
	defer span.End()
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + listingColumns + ` FROM jobs WHERE id = ANY($1)`
	rows, err := r.Pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("op=listings.get_by_ids: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// Upsert inserts a listing or refreshes an existing (source, external_id)
// row, and returns the row id.
func (r *ListingRepo) Upsert(ctx domain.Context, j domain.JobListing) (string, error) {
	tracer := otel.Tracer("repo.listings")
	ctx, span := tracer.Start(ctx, "listings.Upsert")
	defer span.End()
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	externalID := j.ExternalID
	if externalID == "" {
		externalID = id
	}
	expires := j.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().UTC().Add(14 * 24 * time.Hour)
	}
	q := `INSERT INTO jobs (id, title, company, location, state, is_remote, email,
			description, requirements, experience, category, source, external_id,
			scraped_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),$14)
		ON CONFLICT (source, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			company = EXCLUDED.company,
			location = EXCLUDED.location,
			state = EXCLUDED.state,
			is_remote = EXCLUDED.is_remote,
			email = EXCLUDED.email,
			description = EXCLUDED.description,
			requirements = EXCLUDED.requirements,
			experience = EXCLUDED.experience,
			category = EXCLUDED.category,
			last_updated = now(),
			expires_at = EXCLUDED.expires_at
		RETURNING id`
	row := r.Pool.QueryRow(ctx, q, id, j.Title, j.Company, j.Location, j.State,
		j.IsRemote, j.Email, j.Description, j.Requirements, j.Experience,
		j.Category, j.Source, externalID, expires)
	var out string
	if err := row.Scan(&out); err != nil {
		return "", fmt.Errorf("op=listings.upsert: %w", err)
	}
	return out, nil
}

// PurgeExpired deletes listings past their expiry and reports the count.
func (r *ListingRepo) PurgeExpired(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.listings")
	ctx, span := tracer.Start(ctx, "listings.PurgeExpired")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM jobs WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("op=listings.purge_expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats summarizes the catalog for the public stats endpoint.
func (r *ListingRepo) Stats(ctx domain.Context) (domain.CatalogStats, error) {
	tracer := otel.Tracer("repo.listings")
	ctx, span := tracer.Start(ctx, "listings.Stats")
	defer span.End()
	var s domain.CatalogStats
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE expires_at > now()),
		COUNT(*) FILTER (WHERE is_remote AND expires_at > now())
		FROM jobs`)
	if err := row.Scan(&s.TotalJobs, &s.ActiveJobs, &s.RemoteJobs); err != nil {
		return domain.CatalogStats{}, fmt.Errorf("op=listings.stats: %w", err)
	}

	byCategory, err := r.groupCount(ctx, `SELECT category, COUNT(*) FROM jobs
		WHERE expires_at > now() AND category <> ''
		GROUP BY category ORDER BY COUNT(*) DESC LIMIT 25`)
	if err != nil {
		return domain.CatalogStats{}, fmt.Errorf("op=listings.stats categories: %w", err)
	}
	s.ByCategory = byCategory
	bySource, err := r.groupCount(ctx, `SELECT source, COUNT(*) FROM jobs
		WHERE expires_at > now() AND source <> ''
		GROUP BY source ORDER BY COUNT(*) DESC LIMIT 25`)
	if err != nil {
		return domain.CatalogStats{}, fmt.Errorf("op=listings.stats sources: %w", err)
	}
	s.BySource = bySource
	return s, nil
}

func (r *ListingRepo) groupCount(ctx domain.Context, q string) (map[string]int64, error) {
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

func scanListings(rows pgx.Rows) ([]domain.JobListing, error) {
	var out []domain.JobListing
	for rows.Next() {
		var j domain.JobListing
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &j.Location, &j.State,
			&j.IsRemote, &j.Email, &j.Description, &j.Requirements, &j.Experience,
			&j.Category, &j.Source, &j.ExternalID, &j.ScrapedAt, &j.LastUpdated,
			&j.ExpiresAt); err != nil {
			return nil, fmt.Errorf("op=listings.scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=listings.rows: %w", err)
	}
	return out, nil
}
