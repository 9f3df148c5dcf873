// Package session keeps per-user conversation state in Redis.
//
// All keys are scoped by the normalized WhatsApp identifier. CV artifacts
// live for a day; presented job lists expire after an hour so stale result
// numbers cannot be applied to.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kvredis "github.com/Ugoplus/smartcvnaija/internal/adapter/kv/redis"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

const (
	sessionTTL   = 24 * time.Hour
	jobListTTL   = time.Hour
	searchTTL    = time.Hour
	payRefTTL    = 48 * time.Hour
	maxTurns     = 10
	keyCV        = "cv:"
	keyCVText    = "cv_text:"
	keyCVFile    = "cv_file:"
	keyLetter    = "cover_letter:"
	keyState     = "state:"
	keyEmail     = "email:"
	keyLastJobs  = "last_jobs:"
	keyPending   = "pending_jobs:"
	keyConvo     = "conversation:"
	keySearchRes = "jobs:"
	keyPayRef    = "payment_ref:"
)

// Manager provides typed access to the session keys.
type Manager struct {
	kv *kvredis.Store
}

func NewManager(kv *kvredis.Store) *Manager {
	return &Manager{kv: kv}
}

// State returns the conversation state, defaulting to idle.
func (m *Manager) State(ctx context.Context, id string) (domain.SessionState, error) {
	v, ok, err := m.kv.Get(ctx, keyState+id)
	if err != nil {
		return domain.StateIdle, fmt.Errorf("op=session.State: %w", err)
	}
	if !ok {
		return domain.StateIdle, nil
	}
	return domain.SessionState(v), nil
}

func (m *Manager) SetState(ctx context.Context, id string, s domain.SessionState) error {
	return m.kv.Set(ctx, keyState+id, string(s), sessionTTL)
}

func (m *Manager) CVMeta(ctx context.Context, id string) (domain.CVMeta, bool, error) {
	var meta domain.CVMeta
	ok, err := m.getJSON(ctx, keyCV+id, &meta)
	return meta, ok, err
}

func (m *Manager) SetCVMeta(ctx context.Context, id string, meta domain.CVMeta) error {
	return m.setJSON(ctx, keyCV+id, meta, sessionTTL)
}

func (m *Manager) CVText(ctx context.Context, id string) (string, bool, error) {
	return m.kv.Get(ctx, keyCVText+id)
}

func (m *Manager) SetCVText(ctx context.Context, id, text string) error {
	return m.kv.Set(ctx, keyCVText+id, text, sessionTTL)
}

func (m *Manager) CVFile(ctx context.Context, id string) (domain.FileRef, bool, error) {
	var ref domain.FileRef
	ok, err := m.getJSON(ctx, keyCVFile+id, &ref)
	return ref, ok, err
}

func (m *Manager) SetCVFile(ctx context.Context, id string, ref domain.FileRef) error {
	return m.setJSON(ctx, keyCVFile+id, ref, sessionTTL)
}

func (m *Manager) CoverLetter(ctx context.Context, id string) (string, bool, error) {
	return m.kv.Get(ctx, keyLetter+id)
}

func (m *Manager) SetCoverLetter(ctx context.Context, id, letter string) error {
	return m.kv.Set(ctx, keyLetter+id, letter, sessionTTL)
}

func (m *Manager) Email(ctx context.Context, id string) (string, bool, error) {
	return m.kv.Get(ctx, keyEmail+id)
}

func (m *Manager) SetEmail(ctx context.Context, id, email string) error {
	return m.kv.Set(ctx, keyEmail+id, email, sessionTTL)
}

// LastJobs returns the most recently presented job list. Apply-by-number
// resolves against this snapshot.
func (m *Manager) LastJobs(ctx context.Context, id string) ([]domain.JobListing, bool, error) {
	var jobs []domain.JobListing
	ok, err := m.getJSON(ctx, keyLastJobs+id, &jobs)
	return jobs, ok, err
}

func (m *Manager) SetLastJobs(ctx context.Context, id string, jobs []domain.JobListing) error {
	return m.setJSON(ctx, keyLastJobs+id, jobs, jobListTTL)
}

// PendingJobs holds job IDs selected before payment or cover letter capture.
func (m *Manager) PendingJobs(ctx context.Context, id string) ([]string, bool, error) {
	var ids []string
	ok, err := m.getJSON(ctx, keyPending+id, &ids)
	return ids, ok, err
}

func (m *Manager) SetPendingJobs(ctx context.Context, id string, jobIDs []string) error {
	return m.setJSON(ctx, keyPending+id, jobIDs, sessionTTL)
}

func (m *Manager) ClearPendingJobs(ctx context.Context, id string) error {
	return m.kv.Del(ctx, keyPending+id)
}

// PaymentReferenceSeen reports whether a reference was already credited.
// The upsert in the usage ledger only guards a user's current reference,
// so a redelivery of an older one after a second same-day purchase has to
// be caught here.
func (m *Manager) PaymentReferenceSeen(ctx context.Context, reference string) (bool, error) {
	return m.kv.Exists(ctx, keyPayRef+reference)
}

// MarkPaymentReference records a credited reference for payRefTTL.
func (m *Manager) MarkPaymentReference(ctx context.Context, reference string) error {
	_, err := m.kv.MarkOnce(ctx, keyPayRef+reference, payRefTTL)
	return err
}

// AppendTurn pushes one turn onto the rolling history, keeping the newest
// maxTurns entries.
func (m *Manager) AppendTurn(ctx context.Context, id, role, content string) error {
	turns, _, err := m.Conversation(ctx, id)
	if err != nil {
		return err
	}
	turns = append(turns, domain.ConversationTurn{Role: role, Content: content, At: time.Now().UTC()})
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	return m.setJSON(ctx, keyConvo+id, turns, sessionTTL)
}

func (m *Manager) Conversation(ctx context.Context, id string) ([]domain.ConversationTurn, bool, error) {
	var turns []domain.ConversationTurn
	ok, err := m.getJSON(ctx, keyConvo+id, &turns)
	return turns, ok, err
}

// CachedSearch returns a previously rendered reply for identical filters.
func (m *Manager) CachedSearch(ctx context.Context, f domain.JobFilters) (string, bool, error) {
	return m.kv.Get(ctx, keySearchRes+f.CacheKey())
}

func (m *Manager) CacheSearch(ctx context.Context, f domain.JobFilters, reply string) error {
	return m.kv.Set(ctx, keySearchRes+f.CacheKey(), reply, searchTTL)
}

// Reset clears CV artifacts and flow state but keeps the user's email and
// conversation history.
func (m *Manager) Reset(ctx context.Context, id string) error {
	err := m.kv.Del(ctx,
		keyCV+id,
		keyCVText+id,
		keyCVFile+id,
		keyLetter+id,
		keyState+id,
		keyLastJobs+id,
		keyPending+id,
	)
	if err != nil {
		return fmt.Errorf("op=session.Reset: %w", err)
	}
	return nil
}

func (m *Manager) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	v, ok, err := m.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return false, fmt.Errorf("op=session.getJSON key=%s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=session.setJSON key=%s: %w", key, err)
	}
	return m.kv.Set(ctx, key, string(b), ttl)
}
