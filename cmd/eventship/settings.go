package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bft-labs/eventship/internal/cliconfig"
	"github.com/bft-labs/eventship/pkg/settings"
)

// settingsView is the printable form of the resolved identity and settings.
type settingsView struct {
	WriteKey     string         `json:"write_key" yaml:"write_key"`
	CDN          string         `json:"cdn" yaml:"cdn"`
	URL          string         `json:"url" yaml:"url"`
	Integrations map[string]any `json:"integrations" yaml:"integrations"`
	Enabled      []string       `json:"enabled" yaml:"enabled"`
	Disabled     []string       `json:"disabled" yaml:"disabled"`
}

func newSettingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Resolve the write key and fetch the source settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var env settings.EnvironmentSource
			if a.cfg.Page != "" {
				srcs, err := cliconfig.LoadPageSources(a.cfg.Page)
				if err != nil {
					return err
				}
				env = srcs
			}

			clientCfg := a.clientConfig()
			resolver := settings.NewResolver(
				settings.GlobalHandle{WriteKey: a.cfg.WriteKey, CDN: a.cfg.CDN},
				env,
				settings.WithCDNTemplate(clientCfg.CDNTemplate),
			)
			id, err := resolver.Resolve()
			if err != nil {
				return err
			}

			fetcher := settings.NewFetcher(&http.Client{Timeout: clientCfg.HTTPTimeout}, a.logger())
			s, err := fetcher.Fetch(cmd.Context(), id)
			var recoverable *settings.RecoverableError
			if err != nil && !errors.As(err, &recoverable) {
				return err
			}

			view, verr := viewOf(id, s)
			if verr != nil {
				return verr
			}
			if perr := a.print(view); perr != nil {
				return perr
			}
			return err
		},
	}
}

func viewOf(id settings.Identity, s *settings.Settings) (settingsView, error) {
	v := settingsView{
		WriteKey:     id.WriteKey,
		CDN:          id.CDN,
		URL:          id.SettingsURL(),
		Integrations: make(map[string]any, len(s.Integrations)),
		Enabled:      []string{},
		Disabled:     []string{},
	}
	for name, raw := range s.Integrations {
		var opt any
		if err := json.Unmarshal(raw, &opt); err != nil {
			return v, fmt.Errorf("decode integration %s: %w", name, err)
		}
		v.Integrations[name] = opt
		if s.Enabled(name) {
			v.Enabled = append(v.Enabled, name)
		} else {
			v.Disabled = append(v.Disabled, name)
		}
	}
	sort.Strings(v.Enabled)
	sort.Strings(v.Disabled)
	return v, nil
}
