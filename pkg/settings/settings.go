package settings

import (
	"bytes"
	"encoding/json"
)

// allIntegrations is the integrations key that sets the default for
// integrations the settings do not name.
const allIntegrations = "All"

// Settings is the remote source configuration.
type Settings struct {
	Integrations map[string]json.RawMessage `json:"integrations"`

	// CDN is the base the settings were fetched from.
	CDN string `json:"-"`
}

// Empty returns settings with no integrations, used when the fetch fails.
func Empty(cdn string) *Settings {
	return &Settings{Integrations: map[string]json.RawMessage{}, CDN: cdn}
}

// Merge layers override on top of base: integrations named by override
// replace those of base. Either may be nil; Merge returns nil only when both
// are. The inputs are not modified.
func Merge(base, override *Settings) *Settings {
	if base == nil && override == nil {
		return nil
	}
	out := Empty("")
	for _, s := range []*Settings{base, override} {
		if s == nil {
			continue
		}
		for name, raw := range s.Integrations {
			out.Integrations[name] = raw
		}
		if out.CDN == "" {
			out.CDN = s.CDN
		}
	}
	return out
}

// Enabled reports whether the named integration should run. An explicit
// false disables it; a missing entry follows "All", which defaults to true.
func (s *Settings) Enabled(name string) bool {
	if s == nil {
		return true
	}
	if raw, ok := s.Integrations[name]; ok {
		return !isFalse(raw)
	}
	if raw, ok := s.Integrations[allIntegrations]; ok {
		return !isFalse(raw)
	}
	return true
}

// Options returns the raw settings for the named integration, or nil.
func (s *Settings) Options(name string) json.RawMessage {
	if s == nil {
		return nil
	}
	raw, ok := s.Integrations[name]
	if !ok || isFalse(raw) {
		return nil
	}
	return raw
}

func isFalse(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("false"))
}
