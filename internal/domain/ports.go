package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ugoplus/smartcvnaija/pkg/msisdn"
)

// Repositories (ports)

type ListingRepository interface {
	// Search returns non-expired listings matching the filters, newest first.
	Search(ctx Context, f JobFilters, limit int) ([]JobListing, error)
	GetByIDs(ctx Context, ids []string) ([]JobListing, error)
	// Upsert inserts or refreshes a listing keyed on (source, external_id).
	Upsert(ctx Context, j JobListing) (string, error)
	PurgeExpired(ctx Context) (int64, error)
	Stats(ctx Context) (CatalogStats, error)
}

type ApplicationRepository interface {
	Create(ctx Context, a Application) (string, error)
	MarkEmailSent(ctx Context, id string) error
	MarkEmailFailed(ctx Context, id string, errMsg string) error
	CountToday(ctx Context, identifier string) (int, error)
	PurgeOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

type UsageRepository interface {
	// Get returns today's usage row; ErrNotFound when the user has none.
	Get(ctx Context, identifier string) (DailyUsage, error)
	// Grant credits applications for today. A reference already recorded on
	// today's row is a replay: nothing changes and credited is false.
	Grant(ctx Context, identifier string, applications int, reference string) (credited bool, err error)
	// Deduct atomically subtracts n from today's remaining quota and returns
	// the new balance. ErrQuotaExceeded when the balance cannot cover n.
	Deduct(ctx Context, identifier string, n int) (int, error)
	PurgeStale(ctx Context, keepDays int) (int64, error)
}

// Queue (port)

type Queue interface {
	EnqueueCV(ctx Context, p CVTaskPayload) (string, error)
	EnqueueApplications(ctx Context, p ApplicationTaskPayload) (string, error)
	EnqueueAI(ctx Context, p AITaskPayload) (string, error)
}

// AIClient (port)

type AIClient interface {
	// ChatJSON returns a JSON object matching the schema instruction in the
	// system prompt; implementations strip code fences before returning.
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
	// Chat returns free-form text at the given sampling temperature.
	Chat(ctx Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Mailer (port)

type MailAttachment struct {
	Filename string
	MimeType string
	Data     []byte
}

type MailMessage struct {
	To          []string
	ReplyTo     string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []MailAttachment
}

type Mailer interface {
	// SendApplication delivers a recruiter-facing application with the CV
	// attached, from the apply@ account.
	SendApplication(ctx Context, m MailMessage) error
	// SendConfirmation delivers an applicant-facing summary from no-reply.
	SendConfirmation(ctx Context, m MailMessage) error
	// SendAlert notifies the operator mailbox of a failure.
	SendAlert(ctx Context, subject, body string) error
}

// PaymentProvider (port)

type PaymentRequest struct {
	Reference   string
	Email       string
	AmountKobo  int64
	CallbackURL string
	Metadata    map[string]string
}

type PaymentLink struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type PaymentVerification struct {
	Reference  string
	Status     string // success | failed | abandoned
	AmountKobo int64
	Channel    string
	PaidAt     time.Time
}

type PaymentProvider interface {
	Initialize(ctx Context, req PaymentRequest) (PaymentLink, error)
	Verify(ctx Context, reference string) (PaymentVerification, error)
}

// Package flavors encoded in payment reference prefixes.
type PackageType string

const (
	// PackageAuto is purchased mid-apply; verification resumes the pending
	// applications automatically.
	PackageAuto PackageType = "auto"
	// PackageQuick is the standard bundle.
	PackageQuick PackageType = "quick"
	// PackageDaily unlocks unlimited applications until midnight.
	PackageDaily PackageType = "daily"
)

// NewPaymentReference builds "{prefix}_{identifier}_{unix-ms}".
func NewPaymentReference(p PackageType, identifier string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", p, identifier, at.UnixMilli())
}

// ParsePaymentReference recovers the package flavor and identifier from a
// reference. ok is false for foreign or malformed references.
//
// Two layouts circulate. References minted here carry the identifier in the
// middle segment ("{prefix}_{identifier}_{unix-ms}"); checkout references
// minted provider-side carry it last ("{prefix}_{uuid}_{phone}"). A
// phone-shaped trailing segment decides: millisecond timestamps never start
// with 234.
func ParsePaymentReference(ref string) (p PackageType, identifier string, ok bool) {
	parts := strings.Split(ref, "_")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	switch PackageType(parts[0]) {
	case PackageAuto, PackageQuick, PackageDaily:
	default:
		return "", "", false
	}
	if msisdn.IsValid(parts[2]) {
		return PackageType(parts[0]), parts[2], true
	}
	return PackageType(parts[0]), parts[1], true
}

// Task payloads

// CVTaskPayload carries the uploaded document bytes to the CV pipeline.
// Data is base64 on the wire via encoding/json.
type CVTaskPayload struct {
	Identifier string `json:"identifier"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	Data       []byte `json:"data"`
	// Background routes to the low-priority lane used for re-processing.
	Background bool `json:"background,omitempty"`
}

// ApplicationTaskPayload fans one paid batch out to recruiters. CV text,
// identity and the stored file are re-read from the session and disk so the
// queue message stays small.
type ApplicationTaskPayload struct {
	BatchID    string   `json:"batch_id"`
	Identifier string   `json:"identifier"`
	JobIDs     []string `json:"job_ids"`
}

// AITaskPayload runs a deferred AI task (cover letter generation).
type AITaskPayload struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Prompt     string `json:"prompt,omitempty"`
}

// AITaskCoverLetter generates and stores a cover letter, then resumes any
// pending applications.
const AITaskCoverLetter = "cover_letter"
