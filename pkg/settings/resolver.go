package settings

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultCDNTemplate derives the CDN from the write key.
const DefaultCDNTemplate = "https://cdn.%s.com"

// DefaultLoaderPattern matches loader script paths and captures the write key.
var DefaultLoaderPattern = regexp.MustCompile(`/analytics\.js/v1/([^/]+)/`)

// GlobalHandle holds the fields of the pre-existing global handle that
// configure resolution. Empty fields are absent.
type GlobalHandle struct {
	WriteKey string
	CDN      string
}

// EnvironmentSource lists candidate loader script references.
type EnvironmentSource interface {
	ScriptSources() []string
}

// StaticSources is a fixed EnvironmentSource.
type StaticSources []string

// ScriptSources returns the sources.
func (s StaticSources) ScriptSources() []string { return s }

// Matcher extracts a write key from a script source.
type Matcher func(src string) (writeKey string, ok bool)

// PatternMatcher returns a Matcher that reports the first capture group of re.
func PatternMatcher(re *regexp.Regexp) Matcher {
	return func(src string) (string, bool) {
		m := re.FindStringSubmatch(src)
		if len(m) < 2 || m[1] == "" {
			return "", false
		}
		return m[1], true
	}
}

// Identity is the resolved source identity.
type Identity struct {
	WriteKey string
	CDN      string
}

// SettingsURL returns {CDN}/v1/projects/{WriteKey}/settings.
func (id Identity) SettingsURL() string {
	return id.CDN + "/v1/projects/" + id.WriteKey + "/settings"
}

// Resolver resolves the write key and CDN. The global handle is copied when
// the resolver is created, so its fields are read exactly once.
type Resolver struct {
	handle      GlobalHandle
	env         EnvironmentSource
	matcher     Matcher
	cdnTemplate string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMatcher replaces the loader script matcher.
func WithMatcher(m Matcher) ResolverOption {
	return func(r *Resolver) {
		if m != nil {
			r.matcher = m
		}
	}
}

// WithCDNTemplate replaces the CDN template. It must contain one %s verb.
func WithCDNTemplate(tmpl string) ResolverOption {
	return func(r *Resolver) {
		if tmpl != "" {
			r.cdnTemplate = tmpl
		}
	}
}

// NewResolver creates a resolver. env may be nil.
func NewResolver(handle GlobalHandle, env EnvironmentSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		handle:      handle,
		env:         env,
		matcher:     PatternMatcher(DefaultLoaderPattern),
		cdnTemplate: DefaultCDNTemplate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the write key and CDN.
func (r *Resolver) Resolve() (Identity, error) {
	key, err := r.ResolveWriteKey()
	if err != nil {
		return Identity{}, err
	}
	return Identity{WriteKey: key, CDN: r.ResolveCDN(key)}, nil
}

// ResolveWriteKey returns the explicit key verbatim, or scans the
// environment when there is none.
func (r *Resolver) ResolveWriteKey() (string, error) {
	if r.handle.WriteKey != "" {
		return r.handle.WriteKey, nil
	}
	if r.env != nil {
		for _, src := range r.env.ScriptSources() {
			if key, ok := r.matcher(src); ok {
				return key, nil
			}
		}
	}
	return "", &ConfigurationError{Reason: "resolve write key", Err: ErrNoWriteKey}
}

// ResolveCDN returns the CDN override or the CDN derived from writeKey,
// without a trailing slash.
func (r *Resolver) ResolveCDN(writeKey string) string {
	cdn := r.handle.CDN
	if cdn == "" {
		cdn = fmt.Sprintf(r.cdnTemplate, writeKey)
	}
	return strings.TrimRight(cdn, "/")
}
