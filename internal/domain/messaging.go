package domain

import "time"

// InboundMessage is a parsed WhatsApp webhook event.
type InboundMessage struct {
	MessageID string
	From      string // normalized 234XXXXXXXXXX identifier
	Type      string // text | document | audio | image | interactive
	Text      string
	Document  *InboundDocument
	Timestamp time.Time
}

// InboundDocument references an attachment on the provider's media store.
// Link may be empty until resolved through the media endpoint.
type InboundDocument struct {
	MediaID  string
	Link     string
	Filename string
	MimeType string
	FileSize int64
}

// MessageKind selects the humanized send delay for outbound replies.
type MessageKind string

const (
	KindDefault       MessageKind = "default"
	KindSearchResults MessageKind = "search_results"
	KindProcessing    MessageKind = "processing"
	KindPaymentInfo   MessageKind = "payment_info"
	KindInstant       MessageKind = "instant"
)

// Urgency scales the humanized delay up or down.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyNormal Urgency = "normal"
	UrgencyLow    Urgency = "low"
)

// Button is one quick-reply option on an interactive message.
type Button struct {
	ID    string
	Title string
}

// ListRow is one selectable row of an interactive list message.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// ListSection groups list rows under a heading.
type ListSection struct {
	Title string
	Rows  []ListRow
}

// SendOpts tunes SmartSend's humanized delivery. The zero value means a
// default-kind, normal-urgency send with no typing indicator.
type SendOpts struct {
	Kind    MessageKind
	Urgency Urgency
	// InboundMessageID ties a typing indicator to the message being
	// replied to before the delayed send.
	InboundMessageID string
}

// Messenger (port) sends WhatsApp messages and pulls inbound media.
type Messenger interface {
	SendText(ctx Context, to, body string) error
	// SmartSend delays the send to read as typed-by-a-human, scaled by kind
	// and urgency, then delivers the text.
	SmartSend(ctx Context, to, body string, opts SendOpts) error
	SendButtons(ctx Context, to, body string, buttons []Button) error
	SendList(ctx Context, to, header, body, buttonLabel string, sections []ListSection) error
	// DownloadMedia resolves the document link if needed and fetches the
	// bytes, refusing payloads above maxBytes. Returns data and MIME type.
	DownloadMedia(ctx Context, doc InboundDocument, maxBytes int64) ([]byte, string, error)
}
