package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// Narrow views over the stores the maintenance jobs touch.
type (
	ListingPurger interface {
		PurgeExpired(ctx domain.Context) (int64, error)
	}
	ApplicationPurger interface {
		PurgeOlderThan(ctx domain.Context, cutoff time.Time) (int64, error)
	}
	UsagePurger interface {
		PurgeStale(ctx domain.Context, keepDays int) (int64, error)
	}
	UploadSweeper interface {
		Sweep(olderThan time.Duration, inUse func(path string) bool) (int, error)
	}
	CVFileReader interface {
		CVFile(ctx context.Context, id string) (domain.FileRef, bool, error)
	}
)

// Maintenance owns the recurring housekeeping: expired listings leave the
// catalog hourly, orphaned CV binaries are swept every ten minutes, and the
// nightly retention pass trims terminal application rows and stale usage
// ledgers. Jobs whose dependency is nil are simply not scheduled.
type Maintenance struct {
	Listings ListingPurger
	Apps     ApplicationPurger
	Usage    UsagePurger
	Uploads  UploadSweeper
	Sessions CVFileReader

	Cfg config.Config
	Log *slog.Logger

	cron *cron.Cron
}

// Start registers and launches the schedule.
func (m *Maintenance) Start() error {
	if m.Log == nil {
		m.Log = slog.Default()
	}
	m.cron = cron.New()

	if m.Listings != nil {
		if _, err := m.cron.AddFunc("0 * * * *", m.purgeListings); err != nil {
			return err
		}
	}
	if m.Uploads != nil {
		if _, err := m.cron.AddFunc("*/10 * * * *", m.sweepUploads); err != nil {
			return err
		}
	}
	if m.Cfg.DataRetentionDays > 0 && (m.Apps != nil || m.Usage != nil) {
		if _, err := m.cron.AddFunc("30 3 * * *", m.retention); err != nil {
			return err
		}
	}

	m.cron.Start()
	m.Log.Info("maintenance schedule started",
		slog.Int("jobs", len(m.cron.Entries())),
		slog.Int("retention_days", m.Cfg.DataRetentionDays))
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

func (m *Maintenance) purgeListings() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	n, err := m.Listings.PurgeExpired(ctx)
	if err != nil {
		m.Log.Error("listing purge failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		m.Log.Info("expired listings purged", slog.Int64("removed", n))
	}
}

// sweepUploads reclaims CV binaries whose deletion timer was lost to a
// restart. A file still referenced by its owner's live session survives.
func (m *Maintenance) sweepUploads() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	inUse := func(path string) bool {
		id := identifierFromUpload(path)
		if id == "" || m.Sessions == nil {
			return false
		}
		ref, ok, err := m.Sessions.CVFile(ctx, id)
		if err != nil {
			// unknown is not deletable
			return true
		}
		return ok && ref.Path == path
	}

	if _, err := m.Uploads.Sweep(m.Cfg.UploadMaxAge, inUse); err != nil {
		m.Log.Error("upload sweep failed", slog.Any("error", err))
	}
}

func (m *Maintenance) retention() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	keep := m.Cfg.DataRetentionDays
	if m.Apps != nil {
		cutoff := time.Now().UTC().AddDate(0, 0, -keep)
		n, err := m.Apps.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			m.Log.Error("application retention failed", slog.Any("error", err))
		} else if n > 0 {
			m.Log.Info("old applications purged", slog.Int64("removed", n))
		}
	}
	if m.Usage != nil {
		n, err := m.Usage.PurgeStale(ctx, keep)
		if err != nil {
			m.Log.Error("usage retention failed", slog.Any("error", err))
		} else if n > 0 {
			m.Log.Info("stale usage rows purged", slog.Int64("removed", n))
		}
	}
}

// identifierFromUpload recovers the owner identifier from an upload path of
// the form cv_{id}_{unixMillis}.{ext}.
func identifierFromUpload(path string) string {
	base := strings.TrimPrefix(filepath.Base(path), "cv_")
	if i := strings.IndexByte(base, '_'); i > 0 {
		return base[:i]
	}
	return ""
}
