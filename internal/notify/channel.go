package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// maxDrain caps how much of an error response body is read before closing.
const maxDrain = 4 << 10

// HTTPChannel posts notifications to an external messaging endpoint,
// authenticating with the member's linked bearer token.
type HTTPChannel struct {
	endpoint string
	client   *http.Client
}

var _ Channel = (*HTTPChannel)(nil)

// NewHTTPChannel returns an HTTPChannel. A nil client uses http.DefaultClient.
func NewHTTPChannel(endpoint string, client *http.Client) *HTTPChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChannel{endpoint: endpoint, client: client}
}

// Send delivers text. Any non-2xx response is an error.
func (c *HTTPChannel) Send(ctx context.Context, token, text string) error {
	if token == "" {
		return errors.New("empty token")
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("object_type")
	e.Str("text")
	e.FieldStart("text")
	e.Str(text)
	e.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
