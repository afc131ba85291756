// internal/infra/whatsapp/client.go
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds every Cloud API call.
const DefaultTimeout = 15 * time.Second

// ErrTemplateBlocked is returned without any network call for templates on the block list.
var ErrTemplateBlocked = errors.New("template is blocked locally")

type Options struct {
	BaseURL          string // e.g. https://graph.facebook.com
	APIVersion       string // e.g. v17.0
	PhoneNumberID    string
	Token            string
	BlockedTemplates []string
	HTTPClient       *http.Client // optional
}

// Client talks to the WhatsApp Cloud API messages endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	phoneID    string
	token      string
	blocked    map[string]struct{}
	logger     *logrus.Entry
}

func NewClient(opts Options, logger *logrus.Entry) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	blocked := make(map[string]struct{}, len(opts.BlockedTemplates))
	for _, name := range opts.BlockedTemplates {
		blocked[name] = struct{}{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		version:    opts.APIVersion,
		phoneID:    opts.PhoneNumberID,
		token:      opts.Token,
		blocked:    blocked,
		logger:     logger,
	}
}

type languagePayload struct {
	Code string `json:"code"`
}

type templatePayload struct {
	Name       string               `json:"name"`
	Language   languagePayload      `json:"language"`
	Components []dispatch.Component `json:"components,omitempty"`
}

type imagePayload struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type documentPayload struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
}

type messagePayload struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         *templatePayload `json:"template,omitempty"`
	Image            *imagePayload    `json:"image,omitempty"`
	Document         *documentPayload `json:"document,omitempty"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) SendTemplate(ctx context.Context, to string, msg dispatch.TemplateMessage) (dispatch.Ack, error) {
	if _, ok := c.blocked[msg.Name]; ok {
		c.logger.WithField("template", msg.Name).Error("Refusing to send blocked template")
		return dispatch.Ack{}, fmt.Errorf("%w: %s", ErrTemplateBlocked, msg.Name)
	}
	lang := msg.Language
	if lang == "" {
		lang = "es_MX"
	}
	return c.send(ctx, messagePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         &templatePayload{Name: msg.Name, Language: languagePayload{Code: lang}, Components: msg.Components},
	})
}

func (c *Client) SendImage(ctx context.Context, to, link, caption string) (dispatch.Ack, error) {
	return c.send(ctx, messagePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "image",
		Image:            &imagePayload{Link: link, Caption: caption},
	})
}

func (c *Client) SendDocument(ctx context.Context, to, link, filename string) (dispatch.Ack, error) {
	if filename == "" {
		filename = "Documento"
	}
	return c.send(ctx, messagePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "document",
		Document:         &documentPayload{Link: link, Filename: filename},
	})
}

func (c *Client) send(ctx context.Context, payload messagePayload) (dispatch.Ack, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return dispatch.Ack{}, fmt.Errorf("failed to encode %s message: %w", payload.Type, err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, c.phoneID)

	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, url, body, &resp); err != nil {
		return dispatch.Ack{}, err
	}
	var ack dispatch.Ack
	if len(resp.Messages) > 0 {
		ack.MessageID = resp.Messages[0].ID
	}
	c.logger.WithFields(logrus.Fields{"to": payload.To, "type": payload.Type, "message_id": ack.MessageID}).Debug("Message accepted")
	return ack, nil
}

// do performs one API call and decodes a 2xx body into out. Error bodies become
// *dispatch.APIError; an empty 2xx body leaves out untouched.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp %s %s: %w", method, req.URL.Path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read whatsapp response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode whatsapp response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	apiErr := &dispatch.APIError{StatusCode: status, Message: http.StatusText(status)}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
