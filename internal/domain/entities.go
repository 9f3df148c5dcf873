package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrCVValidation      = errors.New("cv validation failed")
	ErrMemoryPressure    = errors.New("memory pressure")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// SessionState tracks where a user sits in the apply conversation.
type SessionState string

const (
	StateIdle                SessionState = "idle"
	StateAwaitingCoverLetter SessionState = "awaiting_cover_letter"
	StateBrowsingJobs        SessionState = "browsing_jobs"
	StateApplying            SessionState = "applying"
)

// CVMeta describes a processed CV without carrying its bytes.
// Invariants: Size in (100B, MaxCVBytes]; MIME in {pdf, docx, doc}.
type CVMeta struct {
	Filename   string    `json:"filename"`
	MIME       string    `json:"mime"`
	Size       int64     `json:"size"`
	TextLength int       `json:"text_length"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// FileRef points to a CV binary persisted under the upload directory.
type FileRef struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// JobListing is one scraped or recruiter-submitted vacancy.
type JobListing struct {
	ID           string
	Title        string
	Company      string
	Location     string
	State        string
	IsRemote     bool
	Email        string
	Description  string
	Requirements string
	Experience   string
	Category     string
	Source       string
	ExternalID   string
	ScrapedAt    time.Time
	LastUpdated  *time.Time
	ExpiresAt    time.Time
}

// ApplicationStatus is append-only: submitted rows move to email_sent or
// email_failed and never back.
type ApplicationStatus string

const (
	ApplicationSubmitted   ApplicationStatus = "submitted"
	ApplicationEmailSent   ApplicationStatus = "email_sent"
	ApplicationEmailFailed ApplicationStatus = "email_failed"
)

type Application struct {
	ID             string
	UserIdentifier string
	JobID          string
	CVText         string
	CVScore        int
	Status         ApplicationStatus
	AppliedAt      time.Time
	EmailSentAt    *time.Time
	ErrorMessage   string
	ApplicantName  string
	ApplicantEmail string
	ApplicantPhone string
}

// PaymentStatus of a daily usage row.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// DailyUsage is the per-identifier, per-day application quota ledger.
type DailyUsage struct {
	UserIdentifier         string
	UsageDate              time.Time
	ApplicationsRemaining  int
	TotalApplicationsToday int
	PaymentStatus          PaymentStatus
	PaymentReference       string
}

// IdentityConfidence grades how an applicant identity was obtained.
type IdentityConfidence string

const (
	ConfidenceHigh   IdentityConfidence = "high"   // labeled contact lines
	ConfidenceMedium IdentityConfidence = "medium" // pattern scan
	ConfidenceLow    IdentityConfidence = "low"    // heuristic fallback
)

// Identity is the applicant contact block extracted from CV text.
type Identity struct {
	Name       string             `json:"name"`
	Email      string             `json:"email"`
	Phone      string             `json:"phone"`
	Confidence IdentityConfidence `json:"confidence"`
}

// ConversationTurn is one side of the rolling WhatsApp history.
type ConversationTurn struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// CatalogStats summarizes the job listings table.
type CatalogStats struct {
	TotalJobs  int64
	ActiveJobs int64
	RemoteJobs int64
	ByCategory map[string]int64
	BySource   map[string]int64
}

// Context is an alias so ports stay decoupled from call sites; adapters and
// usecases pass context.Context straight through.
type Context = context.Context
