// Package settings resolves the source write key and CDN and fetches the
// remote integration settings.
//
// Resolution order for the write key:
//
//  1. The explicit key on the pre-existing global handle, used verbatim.
//     The environment is not consulted.
//  2. The first loader script in the environment whose path matches
//     /analytics.js/v1/{writeKey}/.
//  3. Otherwise a ConfigurationError.
//
// The CDN is the override on the global handle when present, otherwise the
// CDN template filled with the write key (https://cdn.{writeKey}.com).
//
// # Usage
//
//	r := settings.NewResolver(settings.GlobalHandle{CDN: os.Getenv("CDN")}, env)
//	id, err := r.Resolve()
//	if err != nil {
//	    return err // ConfigurationError
//	}
//	s, err := settings.NewFetcher(httpClient, logger).Fetch(ctx, id)
//	if err != nil {
//	    // RecoverableError: continue with s, which has empty integrations.
//	}
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package settings
