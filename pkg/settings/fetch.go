package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/sender"
)

// maxSettingsBytes bounds the settings response body.
const maxSettingsBytes = 4 << 20

// Fetcher downloads settings from the CDN.
type Fetcher struct {
	client sender.HTTPClient
	logger log.Logger
}

// NewFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewFetcher(client sender.HTTPClient, logger log.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, logger: log.OrNoop(logger)}
}

// Fetch issues GET {cdn}/v1/projects/{writeKey}/settings.
//
// Fetch always returns usable settings: on any failure it returns empty
// settings together with a *RecoverableError.
func (f *Fetcher) Fetch(ctx context.Context, id Identity) (*Settings, error) {
	url := id.SettingsURL()
	s, err := f.fetch(ctx, url)
	if err != nil {
		f.logger.Warn("settings fetch failed, continuing with empty integrations",
			log.String("url", url),
			log.Err(err),
		)
		return Empty(id.CDN), &RecoverableError{Op: "fetch settings", URL: url, Err: err}
	}
	s.CDN = id.CDN
	if s.Integrations == nil {
		s.Integrations = map[string]json.RawMessage{}
	}
	f.logger.Debug("settings fetched",
		log.String("url", url),
		log.Int("integrations", len(s.Integrations)),
	)
	return s, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (*Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSettingsBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var s Settings
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &s, nil
}

// Load parses settings from JSON, as found in a local override file.
func Load(data []byte, cdn string) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if s.Integrations == nil {
		s.Integrations = map[string]json.RawMessage{}
	}
	s.CDN = cdn
	return &s, nil
}
