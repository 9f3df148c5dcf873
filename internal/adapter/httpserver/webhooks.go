package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/payments/paystack"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/pkg/msisdn"
)

// ycloudEvent is the provider's webhook envelope. Delivery receipts and
// other event types arrive on the same endpoint with the message field
// absent.
type ycloudEvent struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Message *ycloudInbound `json:"whatsappInboundMessage"`
}

// ycloudInbound mirrors the provider's inbound message resource, reduced to
// what the conversation engine consumes.
type ycloudInbound struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	Type     string `json:"type"`
	SendTime string `json:"sendTime"`
	Text     *struct {
		Body string `json:"body"`
	} `json:"text"`
	Document    *ycloudMedia `json:"document"`
	Image       *ycloudMedia `json:"image"`
	Video       *ycloudMedia `json:"video"`
	Audio       *ycloudMedia `json:"audio"`
	Sticker     *ycloudMedia `json:"sticker"`
	Interactive *struct {
		Type        string       `json:"type"`
		ButtonReply *ycloudReply `json:"button_reply"`
		ListReply   *ycloudReply `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
}

type ycloudMedia struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type ycloudReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// toDomain flattens the provider shape into the engine's inbound message.
// Interactive and template replies become text events carrying the reply ID
// so the intent layer treats taps and typed commands alike.
func (m *ycloudInbound) toDomain() domain.InboundMessage {
	msg := domain.InboundMessage{
		MessageID: m.ID,
		From:      msisdn.Normalize(m.From),
		Type:      m.Type,
		Timestamp: parseSendTime(m.SendTime),
	}
	switch m.Type {
	case "text":
		if m.Text != nil {
			msg.Text = m.Text.Body
		}
	case "interactive":
		msg.Type = "text"
		if m.Interactive != nil {
			if r := m.Interactive.ButtonReply; r != nil {
				msg.Text = r.ID
			}
			if r := m.Interactive.ListReply; r != nil {
				msg.Text = r.ID
			}
		}
	case "button":
		msg.Type = "text"
		if m.Button != nil {
			msg.Text = m.Button.Payload
			if msg.Text == "" {
				msg.Text = m.Button.Text
			}
		}
	case "document":
		if m.Document != nil {
			msg.Document = &domain.InboundDocument{
				MediaID:  m.Document.ID,
				Link:     m.Document.Link,
				Filename: m.Document.Filename,
				MimeType: m.Document.MimeType,
				FileSize: m.Document.FileSize,
			}
		}
	}
	return msg
}

func parseSendTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// YCloudWebhookHandler ingests WhatsApp events. It always answers 200:
// rejecting a webhook only schedules its redelivery. Real processing runs
// detached; redeliveries are suppressed by a one-hour mark per message id,
// and a mark that cannot be read fails closed because a duplicate send to
// the user is worse than one dropped retry.
func (s *Server) YCloudWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev ycloudEvent
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&ev); err != nil {
			LoggerFrom(r).Warn("ycloud webhook: undecodable body", slog.Any("error", err))
			w.WriteHeader(http.StatusOK)
			return
		}
		if ev.Message == nil || ev.Message.From == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		msg := ev.Message.toDomain()

		if msg.MessageID != "" {
			first, err := s.KV.MarkOnce(r.Context(), "msg:"+msg.MessageID, time.Hour)
			if err != nil {
				LoggerFrom(r).Warn("ycloud webhook: dedup mark unavailable, dropping",
					slog.String("message_id", msg.MessageID), slog.Any("error", err))
				w.WriteHeader(http.StatusOK)
				return
			}
			if !first {
				LoggerFrom(r).Info("ycloud webhook: duplicate delivery suppressed",
					slog.String("message_id", msg.MessageID))
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		observability.RecordInbound(msg.Type)
		go s.dispatch(msg)
		w.WriteHeader(http.StatusOK)
	}
}

// dispatch routes one inbound message on a fresh context; the request
// context dies as soon as the 200 is written.
func (s *Server) dispatch(msg domain.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	var err error
	switch msg.Type {
	case "text":
		err = s.Convo.HandleText(ctx, msg)
	case "document":
		err = s.Convo.HandleDocument(ctx, msg)
	default:
		err = s.Convo.HandleUnsupportedMedia(ctx, msg)
	}
	if err != nil {
		s.log().Error("inbound dispatch failed",
			slog.String("type", msg.Type),
			slog.String("from", msisdn.Mask(msg.From)),
			slog.Any("error", err))
	}
}

// paystackEvent is the slice of the provider's webhook payload we act on.
type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// PaystackWebhookHandler ingests payment events. The raw body is
// authenticated against the x-paystack-signature header before anything is
// parsed; a bad signature is a 400 and an operator alert. Only
// charge.success events proceed, and the completion pipeline (provider
// verify, quota grant, parked-application resume) runs detached so the
// provider gets its acknowledgement inside its delivery window.
func (s *Server) PaystackWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: body read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		sig := r.Header.Get("x-paystack-signature")
		if !paystack.VerifySignature(s.Cfg.PaystackSecretKey, body, sig) {
			LoggerFrom(r).Warn("paystack webhook: signature mismatch",
				slog.String("remote", r.RemoteAddr), slog.Int("bytes", len(body)))
			go s.alert("Unsigned Paystack webhook rejected",
				fmt.Sprintf("A webhook with a bad or missing signature was rejected.\nRemote: %s\nBody bytes: %d", r.RemoteAddr, len(body)))
			writeError(w, r, fmt.Errorf("%w: signature mismatch", domain.ErrInvalidArgument), nil)
			return
		}

		var ev paystackEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if ev.Event != "charge.success" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		if ev.Data.Reference == "" {
			writeError(w, r, fmt.Errorf("%w: reference missing", domain.ErrInvalidArgument), nil)
			return
		}

		reference := ev.Data.Reference
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
			defer cancel()
			if err := s.Convo.HandlePaymentCompleted(ctx, reference); err != nil {
				s.log().Error("payment completion failed",
					slog.String("reference", reference), slog.Any("error", err))
			}
		}()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// paymentPage is the static landing shell shown after a Paystack checkout
// redirect. The body slot carries the verification outcome.
const paymentPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>SmartCV Naija — Payment</title>
<style>
body{font-family:-apple-system,Segoe UI,Roboto,sans-serif;background:#f3f4f6;margin:0;padding:40px 16px;display:flex;justify-content:center}
.card{background:#fff;border-radius:12px;box-shadow:0 1px 4px rgba(0,0,0,.1);max-width:420px;padding:32px;text-align:center}
h1{font-size:22px;margin:0 0 12px}
p{color:#4b5563;line-height:1.5}
.ok{color:#047857}
.warn{color:#b45309}
</style>
</head>
<body><div class="card">%s</div></body>
</html>`

const paymentOKBody = `<h1 class="ok">✅ Payment confirmed</h1>
<p>Your applications are unlocked. Head back to WhatsApp — your saved applications are already on their way.</p>`

const paymentPendingBody = `<h1 class="warn">⏳ Payment not confirmed yet</h1>
<p>We could not confirm this payment. If you were charged, the confirmation usually lands within a minute — check WhatsApp shortly or reply <b>status</b> there.</p>`

// PaymentSuccessHandler renders the checkout landing page. The reference is
// re-verified with the provider; the page never grants anything itself, the
// webhook does.
func (s *Server) PaymentSuccessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("reference")
		if ref == "" {
			ref = r.URL.Query().Get("ref")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if ref == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, paymentPage, paymentPendingBody)
			return
		}

		body := paymentPendingBody
		v, err := s.Payments.Verify(r.Context(), ref)
		if err != nil {
			LoggerFrom(r).Warn("payment page: verify failed",
				slog.String("reference", ref), slog.Any("error", err))
		} else if v.Status == "success" {
			body = paymentOKBody
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, paymentPage, body)
	}
}
