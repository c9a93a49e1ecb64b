package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/eventship/internal/cliconfig"
	"github.com/bft-labs/eventship/pkg/eventship"
	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/plugins/deadletterpurge"
	"github.com/bft-labs/eventship/plugins/settingswatcher"
)

const helpDescription = `
Forward telemetry events to a collection service and inspect the local
delivery queue.

Highlights:
  - Events are persisted before delivery and retried with backoff.
  - Per-destination queues follow the remote source settings.
  - Configure via file ($HOME/.eventship/config.toml), EVENTSHIP_* env, or flags.
`

var exampleUsage = strings.TrimSpace(`
  echo '{"type":"track","event":"Signed Up","userId":"u1"}' | eventship send --write-key <key>
  eventship queue ls -o yaml
  eventship queue purge --before 72h
  eventship settings --page ./index.html
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// app carries the state shared by every subcommand.
type app struct {
	cfg     cliconfig.Config
	cfgPath string
	output  string

	log    zerolog.Logger
	stdin  io.Reader
	stdout io.Writer
}

func newApp() *app {
	return &app{
		cfg:    cliconfig.DefaultConfig(),
		output: "table",
		log:    cliconfig.Logger("info"),
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
}

func main() {
	a := newApp()
	root := newRootCmd(a)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		a.log.Error().Err(err).Msg("eventship")
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "eventship",
		Short:         "Forward telemetry events and inspect the delivery queue",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)

	cfg := &a.cfg
	f := root.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.eventship/config.toml)")
	f.StringVarP(&a.output, "output", "o", a.output, "output format: table, json or yaml")

	f.StringVar(&cfg.WriteKey, "write-key", cfg.WriteKey, "source write key")
	f.StringVar(&cfg.CDN, "cdn", cfg.CDN, "settings CDN (defaults to one derived from the write key)")
	f.StringVar(&cfg.APIHost, "api-host", cfg.APIHost, "collection service base URL")
	f.StringVar(&cfg.Page, "page", cfg.Page, "HTML page scanned for the loader script when no write key is set")

	f.StringVar(&cfg.Store, "store", cfg.Store, "task store: memory, file, sqlite or redis")
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory (default: $HOME/.eventship)")
	f.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database (default: state-dir/queue.db)")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis store")

	f.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "delivery workers per channel")
	f.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "delivery attempts before dead-lettering")
	f.DurationVar(&cfg.BackoffBase, "backoff-base", cfg.BackoffBase, "first retry delay")
	f.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "maximum retry delay")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")
	f.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "poll interval when idle")
	f.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "delivery attempts per second per channel (0 disables)")

	f.Float64Var(&cfg.CPUThreshold, "cpu-threshold", cfg.CPUThreshold, "max CPU load fraction before delaying delivery")
	f.BoolVar(&cfg.ResourceGating, "resource-gating", cfg.ResourceGating, "delay delivery while the process is busy")
	f.StringVar(&cfg.SettingsFile, "settings-file", cfg.SettingsFile, "local settings override (default: state-dir/settings.json)")
	f.StringVar(&cfg.PurgeSchedule, "purge-schedule", cfg.PurgeSchedule, "dead-letter purge schedule (cron expression)")
	f.DurationVar(&cfg.Retention, "retention", cfg.Retention, "dead-letter retention")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")

	if err := f.MarkHidden("api-host"); err != nil {
		a.log.Info().Err(err).Msg("failed to hide api-host flag")
	}

	root.AddCommand(
		newSendCmd(a),
		newQueueCmd(a),
		newSettingsCmd(a),
	)
	return root
}

// loadConfig layers the config file, then EVENTSHIP_* variables, under the
// flags that were set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfgFile := a.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&a.cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := cliconfig.ApplyEnvConfig(&a.cfg, changed); err != nil {
		return err
	}

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	a.log = cliconfig.Logger(a.cfg.LogLevel)

	logCfg := a.cfg
	if logCfg.WriteKey != "" {
		logCfg.WriteKey = "*****"
	}
	a.log.Debug().Interface("config", logCfg).Msg("configuration")
	return nil
}

// clientConfig returns the library configuration with defaults applied.
func (a *app) clientConfig() eventship.Config {
	cfg := a.cfg.ClientConfig()
	cfg.SetDefaults()
	return cfg
}

func (a *app) logger() log.Logger {
	return log.NewZerologAdapterWithLogger(a.log)
}

// clientOptions builds the Install options for the configured plugins.
func (a *app) clientOptions() ([]eventship.Option, error) {
	opts := []eventship.Option{
		eventship.WithLogger(a.logger()),
		settingswatcher.WithSettingsWatcher(settingswatcher.Config{Path: a.cfg.SettingsFile}),
		eventship.WithResourceGatingConfig(eventship.ResourceGatingConfig{
			Enabled:      a.cfg.ResourceGating,
			CPUThreshold: a.cfg.CPUThreshold,
		}),
	}

	purge, err := deadletterpurge.WithDeadLetterPurge(deadletterpurge.Config{
		Schedule:       a.cfg.PurgeSchedule,
		Retention:      a.cfg.Retention,
		RunImmediately: true,
	})
	if err != nil {
		return nil, err
	}
	opts = append(opts, purge)

	if a.cfg.Page != "" {
		srcs, err := cliconfig.LoadPageSources(a.cfg.Page)
		if err != nil {
			return nil, err
		}
		opts = append(opts, eventship.WithEnvironment(srcs, nil))
	}
	return opts, nil
}
