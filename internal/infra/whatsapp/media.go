package whatsapp

import (
	"context"
	"fmt"
	"net/http"

	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/domain/phone"
)

type mediaResponse struct {
	URL string `json:"url"`
}

// MediaURL resolves the download URL of an inbound media object. An empty string
// with a nil error means the API answered without a URL.
func (c *Client) MediaURL(ctx context.Context, mediaID string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s?fields=url", c.baseURL, c.version, mediaID)
	var resp mediaResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// MediaForwarder relays inbound receipts to a fixed operator number as images.
type MediaForwarder struct {
	client *Client
	to     string
}

// NewMediaForwarder canonicalizes the destination once; it fails for an empty or
// malformed number.
func NewMediaForwarder(client *Client, keyer *phone.Keyer, to string) (*MediaForwarder, error) {
	if !keyer.Valid(to) {
		return nil, fmt.Errorf("media forward destination %q: %w", to, phone.ErrInvalidPhone)
	}
	sendTo, err := keyer.SendForm(to)
	if err != nil {
		return nil, err
	}
	return &MediaForwarder{client: client, to: sendTo}, nil
}

func (f *MediaForwarder) Relay(ctx context.Context, mediaID string) (dispatch.Ack, error) {
	link, err := f.client.MediaURL(ctx, mediaID)
	if err != nil {
		return dispatch.Ack{}, fmt.Errorf("failed to resolve media %s: %w", mediaID, err)
	}
	if link == "" {
		return dispatch.Ack{}, nil
	}
	return f.client.SendImage(ctx, f.to, link, "")
}
