// Package smtpmailer sends application, confirmation, and alert email over
// SMTP with STARTTLS. Two identities are kept strictly apart: the recruiter
// account (apply@) carries applications with CV attachments, the no-reply
// account carries applicant confirmations and operator alerts. Each identity
// has its own connection settings and its own send-rate limiter.
package smtpmailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// sendTimeout bounds a single SMTP conversation.
const sendTimeout = 20 * time.Second

// Identity is one SMTP account the mailer can send as.
type Identity struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (id Identity) addr() string { return fmt.Sprintf("%s:%d", id.Host, id.Port) }

// fromAddress returns the bare address part of From ("Name <a@b>" -> "a@b").
func (id Identity) fromAddress() string {
	s := id.From
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j > 0 {
			return s[i+1 : i+j]
		}
	}
	return strings.TrimSpace(s)
}

// deliverFunc performs one SMTP conversation. Swappable in tests.
type deliverFunc func(id Identity, rcpts []string, msg []byte) error

type transport struct {
	id      Identity
	limiter *rate.Limiter
	deliver deliverFunc
	verify  func(id Identity) error
}

// Mailer implements domain.Mailer over two SMTP identities.
type Mailer struct {
	recruiter transport
	noReply   transport
	alertTo   string
	log       *slog.Logger
}

func New(cfg config.Config, log *slog.Logger) *Mailer {
	lim := func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(cfg.SMTPSendRate), 1)
	}
	return &Mailer{
		recruiter: transport{
			id: Identity{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUser,
				Password: cfg.SMTPPassword,
				From:     cfg.SMTPFrom,
			},
			limiter: lim(),
			deliver: deliverSTARTTLS,
			verify:  verifySTARTTLS,
		},
		noReply: transport{
			id: Identity{
				Host:     cfg.SMTPNoReplyHost,
				Port:     cfg.SMTPNoReplyPort,
				Username: cfg.SMTPNoReplyUser,
				Password: cfg.SMTPNoReplyPassword,
				From:     cfg.SMTPNoReplyFrom,
			},
			limiter: lim(),
			deliver: deliverSTARTTLS,
			verify:  verifySTARTTLS,
		},
		alertTo: cfg.AlertEmail,
		log:     log.With(slog.String("component", "mailer")),
	}
}

// Verify dials each configured identity, upgrades to TLS, authenticates and
// quits without sending anything. Called once at boot, where a rejected AUTH
// is fatal. Transports with no host are skipped.
func (m *Mailer) Verify(ctx context.Context) error {
	for _, t := range []transport{m.recruiter, m.noReply} {
		if t.id.Host == "" {
			m.log.Warn("smtp transport not configured, skipping verify",
				slog.String("from", t.id.fromAddress()))
			continue
		}
		if err := m.verifyOne(ctx, t); err != nil {
			return fmt.Errorf("op=mailer.Verify: %s: %w", t.id.fromAddress(), err)
		}
		m.log.Info("smtp transport verified",
			slog.String("from", t.id.fromAddress()),
			slog.String("host", t.id.addr()))
	}
	return nil
}

func (m *Mailer) verifyOne(ctx context.Context, t transport) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- t.verify(t.id) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendApplication delivers a recruiter-facing application from the apply@
// identity. The reply-to is the applicant so recruiters answer them directly.
func (m *Mailer) SendApplication(ctx context.Context, msg domain.MailMessage) error {
	err := m.send(ctx, m.recruiter, msg)
	observability.RecordEmail("recruiter", err)
	if err != nil {
		return fmt.Errorf("op=mailer.SendApplication: %w", err)
	}
	return nil
}

// SendConfirmation delivers an applicant-facing summary from no-reply.
func (m *Mailer) SendConfirmation(ctx context.Context, msg domain.MailMessage) error {
	err := m.send(ctx, m.noReply, msg)
	observability.RecordEmail("confirmation", err)
	if err != nil {
		return fmt.Errorf("op=mailer.SendConfirmation: %w", err)
	}
	return nil
}

// SendAlert notifies the operator mailbox. With no ALERT_EMAIL configured the
// alert is logged and dropped rather than failing the caller.
func (m *Mailer) SendAlert(ctx context.Context, subject, body string) error {
	if m.alertTo == "" {
		m.log.Warn("alert email not configured, dropping alert",
			slog.String("subject", subject))
		return nil
	}
	err := m.send(ctx, m.noReply, domain.MailMessage{
		To:       []string{m.alertTo},
		Subject:  subject,
		TextBody: body,
	})
	observability.RecordEmail("alert", err)
	if err != nil {
		return fmt.Errorf("op=mailer.SendAlert: %w", err)
	}
	return nil
}

func (m *Mailer) send(ctx context.Context, t transport, msg domain.MailMessage) error {
	if t.id.Host == "" {
		return fmt.Errorf("smtp host not configured: %w", domain.ErrInternal)
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients: %w", domain.ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate wait: %w", err)
	}

	raw, err := buildMessage(t.id.From, msg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- t.deliver(t.id, msg.To, raw) }()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}

	m.log.Info("email sent",
		slog.String("from", t.id.fromAddress()),
		slog.Int("recipients", len(msg.To)),
		slog.Int("attachments", len(msg.Attachments)),
		slog.String("subject", msg.Subject))
	return nil
}

// dialAuth runs the shared prologue of the submission conversation on port
// 587: plain dial, STARTTLS upgrade, AUTH PLAIN.
func dialAuth(id Identity) (*smtp.Client, error) {
	client, err := smtp.Dial(id.addr())
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", id.addr(), err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: id.Host}); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if id.Username != "" {
		auth := smtp.PlainAuth("", id.Username, id.Password, id.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

// verifySTARTTLS authenticates against the submission port and quits.
func verifySTARTTLS(id Identity) error {
	client, err := dialAuth(id)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

func deliverSTARTTLS(id Identity, rcpts []string, msg []byte) error {
	client, err := dialAuth(id)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(id.fromAddress()); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}
