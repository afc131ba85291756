// internal/domain/dispatch/messaging.go
package dispatch

import (
	"context"
	"fmt"
)

// Parameter is a single template parameter. Exactly one of Text or Image is set.
type Parameter struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image *Media `json:"image,omitempty"`
}

// Media points to a publicly reachable file.
type Media struct {
	Link string `json:"link"`
}

// Component groups parameters for a section of a template (header, body, button).
type Component struct {
	Type       string      `json:"type"`
	Parameters []Parameter `json:"parameters"`
}

// TemplateMessage is an opaque, pre-rendered template payload.
type TemplateMessage struct {
	Name       string
	Language   string
	Components []Component
}

// TemplateBuilder renders the template for one row.
type TemplateBuilder func(row Row) TemplateMessage

// MediaKind distinguishes follow-up media messages.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
)

// MediaMessage is an optional follow-up sent after the template sequence.
type MediaMessage struct {
	Kind     MediaKind
	Link     string
	Caption  string // image only
	Filename string // document only
}

// Ack is the upstream acknowledgement of an accepted message. An empty MessageID
// means the upstream answered without confirming anything.
type Ack struct {
	MessageID string
}

// Sender delivers messages to a recipient in send form (+521XXXXXXXXXX).
type Sender interface {
	SendTemplate(ctx context.Context, to string, msg TemplateMessage) (Ack, error)
	SendImage(ctx context.Context, to, link, caption string) (Ack, error)
	SendDocument(ctx context.Context, to, link, filename string) (Ack, error)
}

// APIError is an error reported by an upstream HTTP API, normalised from whatever
// shape the client library returns.
type APIError struct {
	StatusCode int    // HTTP status
	Code       int    // provider specific error code, 0 if absent
	Message    string // provider message
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream error: status %d: %s", e.StatusCode, e.Message)
}
