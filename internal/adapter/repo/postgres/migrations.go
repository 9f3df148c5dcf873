package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// migration is one versioned schema step. Versions are timestamps in
// YYYYMMDD-HHmmss form and each step runs exactly once, tracked in the
// schema_migrations table.
type migration struct {
	version     string
	description string
	up          []string
}

var migrations = []migration{
	{
		version:     "20250312-000000",
		description: "initial schema",
		up: []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				company TEXT NOT NULL DEFAULT '',
				location TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT '',
				is_remote BOOLEAN NOT NULL DEFAULT FALSE,
				email TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				requirements TEXT NOT NULL DEFAULT '',
				experience TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT 'scraper',
				external_id TEXT NOT NULL,
				scraped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				last_updated TIMESTAMPTZ,
				expires_at TIMESTAMPTZ NOT NULL,
				UNIQUE (source, external_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON jobs (expires_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs (state)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_category ON jobs (category)`,
			`CREATE TABLE IF NOT EXISTS applications (
				id TEXT PRIMARY KEY,
				user_identifier TEXT NOT NULL,
				job_id TEXT NOT NULL,
				cv_text TEXT NOT NULL DEFAULT '',
				cv_score INT NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'submitted',
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				email_sent_at TIMESTAMPTZ,
				error_message TEXT NOT NULL DEFAULT '',
				applicant_name TEXT NOT NULL DEFAULT '',
				applicant_email TEXT NOT NULL DEFAULT '',
				applicant_phone TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_applications_user_day ON applications (user_identifier, applied_at)`,
			`CREATE TABLE IF NOT EXISTS daily_usage (
				user_identifier TEXT NOT NULL,
				usage_date DATE NOT NULL,
				applications_remaining INT NOT NULL DEFAULT 0,
				total_applications_today INT NOT NULL DEFAULT 0,
				payment_status TEXT NOT NULL DEFAULT 'pending',
				payment_reference TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (user_identifier, usage_date)
			)`,
		},
	},
}

// Migrate applies all pending migrations. Safe to call from every process at
// startup; steps already recorded in schema_migrations are skipped.
func Migrate(ctx context.Context, pool PgxPool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate create tracking table: %w", err)
	}

	applied := map[string]bool{}
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate read versions: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("op=postgres.Migrate scan version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("op=postgres.Migrate versions: %w", err)
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		for _, stmt := range m.up {
			if _, err := pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("op=postgres.Migrate version=%s: %w", m.version, err)
			}
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.version, m.description); err != nil {
			return fmt.Errorf("op=postgres.Migrate record version=%s: %w", m.version, err)
		}
		logger.Info("migration applied",
			slog.String("version", m.version),
			slog.String("description", m.description))
	}
	return nil
}
