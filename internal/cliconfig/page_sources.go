package cliconfig

import (
	"fmt"
	"html"
	"os"
	"regexp"

	"github.com/bft-labs/eventship/pkg/settings"
)

var scriptSrc = regexp.MustCompile(`(?is)<script\b[^>]*?\bsrc\s*=\s*["']([^"']+)["']`)

// LoadPageSources reads an HTML page and returns the src attribute of every
// script tag, in document order. The result is scanned for the loader script
// when no write key is configured.
func LoadPageSources(path string) (settings.StaticSources, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	var out settings.StaticSources
	for _, m := range scriptSrc.FindAllSubmatch(b, -1) {
		out = append(out, html.UnescapeString(string(m[1])))
	}
	return out, nil
}
