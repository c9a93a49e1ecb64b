package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bft-labs/eventship/pkg/log"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 1 << 10

// DefaultUserAgent is sent when Metadata.UserAgent is empty.
const DefaultUserAgent = "eventship/" + Version

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// HTTPSender implements Sender with JSON POST requests.
type HTTPSender struct {
	client HTTPClient
	logger log.Logger
}

// NewHTTPSender creates a new HTTP sender.
func NewHTTPSender(client HTTPClient, logger log.Logger) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{
		client: client,
		logger: log.OrNoop(logger),
	}
}

// Send POSTs payload to {APIHost}/v1/{eventType}.
func (s *HTTPSender) Send(ctx context.Context, eventType string, payload []byte, metadata Metadata) error {
	if metadata.APIHost == "" {
		return fmt.Errorf("send %s: no API host configured", eventType)
	}
	url := strings.TrimRight(metadata.APIHost, "/") + "/v1/" + eventType

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	// Set headers
	req.SetBasicAuth(metadata.WriteKey, "")
	req.Header.Set("Content-Type", "application/json")
	ua := metadata.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	// Send request
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// Check response
	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debug("event sent",
		log.String("type", eventType),
		log.Int("bytes", len(payload)),
	)
	return nil
}
