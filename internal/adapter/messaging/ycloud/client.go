// Package ycloud is the WhatsApp messaging gateway client. Interactive
// sends degrade to plain text when the platform rejects them, and SmartSend
// paces replies so automated responses read as typed by a person.
package ycloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/pkg/msisdn"
)

const (
	maxButtons     = 3
	maxButtonTitle = 20
	maxListRows    = 10
	maxRowTitle    = 24

	// MinDocumentBytes mirrors the CV floor: anything smaller is not a
	// document worth processing.
	MinDocumentBytes = 100

	minDelay = time.Second
	maxDelay = 25 * time.Second
	// typing speed used to derive the default humanized delay.
	charsPerSecond = 3.3
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var delayByKind = map[domain.MessageKind]time.Duration{
	domain.KindSearchResults: 3 * time.Second,
	domain.KindProcessing:    5 * time.Second,
	domain.KindPaymentInfo:   2 * time.Second,
	domain.KindInstant:       500 * time.Millisecond,
}

// Client talks to the YCloud WhatsApp API.
type Client struct {
	baseURL string
	apiKey  string
	from    string
	hc      *http.Client

	// sleep is swapped out in tests so SmartSend stays instant.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.YCloudBaseURL, "/"),
		apiKey:  cfg.YCloudAPIKey,
		from:    cfg.WhatsAppFrom,
		hc:      &http.Client{Timeout: cfg.YCloudHTTPTimeout},
		sleep:   sleepCtx,
	}
}

// message is the outbound wire shape shared by all send types.
type message struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Type        string       `json:"type"`
	Text        *textBody    `json:"text,omitempty"`
	Interactive *interactive `json:"interactive,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type interactive struct {
	Type   string             `json:"type"` // button | list
	Header *interactiveHeader `json:"header,omitempty"`
	Body   textBody           `json:"body"`
	Action interactiveAction  `json:"action"`
}

type interactiveHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type interactiveAction struct {
	Buttons  []buttonWrap  `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []wireSection `json:"sections,omitempty"`
}

type buttonWrap struct {
	Type  string     `json:"type"`
	Reply buttonWire `json:"reply"`
}

type buttonWire struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type wireSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []wireRow `json:"rows"`
}

type wireRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx domain.Context, to, body string) error {
	err := c.post(ctx, "/whatsapp/messages/sendDirectly", message{
		From: c.from,
		To:   msisdn.Normalize(to),
		Type: "text",
		Text: &textBody{Body: body},
	})
	observability.RecordOutbound("text", err)
	if err != nil {
		return fmt.Errorf("op=ycloud.send_text: %w", err)
	}
	return nil
}

// SendButtons delivers up to three quick-reply buttons, degrading to a
// numbered text rendering when the interactive send fails.
func (c *Client) SendButtons(ctx domain.Context, to, body string, buttons []domain.Button) error {
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	wraps := make([]buttonWrap, 0, len(buttons))
	for _, b := range buttons {
		wraps = append(wraps, buttonWrap{
			Type:  "reply",
			Reply: buttonWire{ID: b.ID, Title: clip(b.Title, maxButtonTitle)},
		})
	}
	err := c.post(ctx, "/whatsapp/messages/sendDirectly", message{
		From: c.from,
		To:   msisdn.Normalize(to),
		Type: "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   textBody{Body: body},
			Action: interactiveAction{Buttons: wraps},
		},
	})
	observability.RecordOutbound("buttons", err)
	if err == nil {
		return nil
	}
	slog.Warn("interactive button send failed, falling back to text",
		"to", msisdn.Mask(to), "error", err)

	var sb strings.Builder
	sb.WriteString(body)
	for i, b := range buttons {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, b.Title)
	}
	return c.SendText(ctx, to, sb.String())
}

// SendList delivers an interactive list capped at ten rows across sections,
// degrading to a numbered text rendering when the interactive send fails.
func (c *Client) SendList(ctx domain.Context, to, header, body, buttonLabel string, sections []domain.ListSection) error {
	wire := make([]wireSection, 0, len(sections))
	total := 0
	for _, s := range sections {
		ws := wireSection{Title: s.Title}
		for _, r := range s.Rows {
			if total == maxListRows {
				break
			}
			ws.Rows = append(ws.Rows, wireRow{
				ID:          r.ID,
				Title:       clip(r.Title, maxRowTitle),
				Description: r.Description,
			})
			total++
		}
		if len(ws.Rows) > 0 {
			wire = append(wire, ws)
		}
		if total == maxListRows {
			break
		}
	}

	var hdr *interactiveHeader
	if header != "" {
		hdr = &interactiveHeader{Type: "text", Text: header}
	}
	err := c.post(ctx, "/whatsapp/messages/sendDirectly", message{
		From: c.from,
		To:   msisdn.Normalize(to),
		Type: "interactive",
		Interactive: &interactive{
			Type:   "list",
			Header: hdr,
			Body:   textBody{Body: body},
			Action: interactiveAction{Button: buttonLabel, Sections: wire},
		},
	})
	observability.RecordOutbound("list", err)
	if err == nil {
		return nil
	}
	slog.Warn("interactive list send failed, falling back to text",
		"to", msisdn.Mask(to), "error", err)

	var sb strings.Builder
	if header != "" {
		sb.WriteString(header)
		sb.WriteString("\n")
	}
	sb.WriteString(body)
	n := 0
	for _, s := range sections {
		for _, r := range s.Rows {
			n++
			fmt.Fprintf(&sb, "\n%d. %s", n, r.Title)
			if r.Description != "" {
				fmt.Fprintf(&sb, " - %s", r.Description)
			}
		}
	}
	return c.SendText(ctx, to, sb.String())
}

// SendTyping shows a typing indicator tied to the inbound message being
// answered. Failures are not fatal to the reply itself.
func (c *Client) SendTyping(ctx domain.Context, inboundMessageID string) error {
	err := c.post(ctx, "/whatsapp/inboundMessages/"+inboundMessageID+"/typingIndicator", struct{}{})
	if err != nil {
		return fmt.Errorf("op=ycloud.send_typing: %w", err)
	}
	return nil
}

// SmartSend paces the reply to read as human-typed: optional typing
// indicator, a kind-and-urgency derived delay, then the text send.
func (c *Client) SmartSend(ctx domain.Context, to, body string, opts domain.SendOpts) error {
	if opts.InboundMessageID != "" {
		if err := c.SendTyping(ctx, opts.InboundMessageID); err != nil {
			slog.Debug("typing indicator failed", "error", err)
		}
	}
	if err := c.sleep(ctx, sendDelay(body, opts.Kind, opts.Urgency)); err != nil {
		return err
	}
	return c.SendText(ctx, to, body)
}

// sendDelay derives the humanized delay: fixed per message kind, reading
// speed for everything else, scaled by urgency.
func sendDelay(text string, kind domain.MessageKind, urgency domain.Urgency) time.Duration {
	d, ok := delayByKind[kind]
	if !ok {
		d = time.Duration(float64(len(text)) / charsPerSecond * float64(time.Second))
		if d < minDelay {
			d = minDelay
		}
		if d > maxDelay {
			d = maxDelay
		}
	}
	switch urgency {
	case domain.UrgencyHigh:
		d /= 2
	case domain.UrgencyLow:
		d = d * 3 / 2
	}
	return d
}

// DownloadMedia fetches an inbound document: directly when the webhook
// carried a link, otherwise resolving the media ID first. Payloads above
// maxBytes, below the floor, or outside PDF/DOCX/DOC are rejected.
func (c *Client) DownloadMedia(ctx domain.Context, doc domain.InboundDocument, maxBytes int64) ([]byte, string, error) {
	link := doc.Link
	if link == "" {
		if doc.MediaID == "" {
			return nil, "", fmt.Errorf("%w: document has no link or media id", domain.ErrInvalidArgument)
		}
		resolved, err := c.resolveMedia(ctx, doc.MediaID)
		if err != nil {
			return nil, "", err
		}
		link = resolved
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("op=ycloud.download: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("op=ycloud.download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("op=ycloud.download: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("op=ycloud.download: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%w: document exceeds %d bytes", domain.ErrCVValidation, maxBytes)
	}
	if len(data) < MinDocumentBytes {
		return nil, "", fmt.Errorf("%w: document too small (%d bytes)", domain.ErrCVValidation, len(data))
	}

	mt := mimetype.Detect(data)
	if !allowedDoc(mt) {
		return nil, "", fmt.Errorf("%w: unsupported document type %s", domain.ErrCVValidation, mt.String())
	}
	return data, mt.String(), nil
}

// resolveMedia exchanges a media ID for its signed download URL.
func (c *Client) resolveMedia(ctx domain.Context, mediaID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/whatsapp/media/"+mediaID, nil)
	if err != nil {
		return "", fmt.Errorf("op=ycloud.resolve_media: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=ycloud.resolve_media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=ycloud.resolve_media: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		URL  string `json:"url"`
		Link string `json:"link"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("op=ycloud.resolve_media: %w", err)
	}
	if out.URL != "" {
		return out.URL, nil
	}
	if out.Link != "" {
		return out.Link, nil
	}
	return "", fmt.Errorf("op=ycloud.resolve_media: response carries no url")
}

func allowedDoc(mt *mimetype.MIME) bool {
	return mt.Is("application/pdf") || mt.Is(docxMIME) ||
		mt.Is("application/msword") || mt.Is("application/x-ole-storage")
}

func (c *Client) post(ctx domain.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// clip cuts s to at most n runes with no ellipsis; platform limits are
// hard caps, not display hints.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
