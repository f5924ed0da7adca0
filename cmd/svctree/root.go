package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	svctree "github.com/axondata/go-svctree"
	"github.com/axondata/go-svctree/config"
	"github.com/axondata/go-svctree/internal/log"
)

// globalFlags holds the persistent flags shared by every command
type globalFlags struct {
	configFile string
	pidfile    string
	sets       []string
}

func newRootCommand(apps *registry) *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "svctree",
		Short: "Run and control svctree service trees",
		Long: `svctree runs an application built from svctree services in the
foreground and controls a running instance through its pidfile.

Settings come from a YAML config file (--config) and may be overridden
with --set path=value. Run 'svctree settings' to list them.`,
		Version:       svctree.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.pidfile, "pidfile", "", "Path to the pidfile (default: ~/.<app>.pid)")
	cmd.PersistentFlags().StringArrayVar(&flags.sets, "set", nil, "Override a setting as path=value")

	cmd.AddCommand(
		newRunCommand(flags, apps),
		newStopCommand(flags),
		newRestartCommand(flags, apps),
		newReloadCommand(flags),
		newStatusCommand(flags),
		newSettingsCommand(flags),
		newAppsCommand(apps),
		newVersionCommand(),
	)
	return cmd
}

// loadStore builds the config store from the config file and --set overrides
func (f *globalFlags) loadStore() (*config.Store, *svctree.Settings, error) {
	store := config.New()
	settings := svctree.DefineSettings(store)

	if f.configFile != "" {
		if err := store.LoadFile(f.configFile); err != nil {
			return nil, nil, err
		}
	}
	for _, kv := range f.sets {
		path, raw, ok := strings.Cut(kv, "=")
		if !ok || path == "" {
			return nil, nil, fmt.Errorf("invalid --set %q, want path=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		store.SetForced(path, v)
	}
	if f.pidfile != "" {
		store.SetForced(settings.Pidfile.Path(), f.pidfile)
	}
	return store, settings, nil
}

// pidfilePath returns the configured pidfile or the default for app
func pidfilePath(settings *svctree.Settings, app string) string {
	if p := settings.Pidfile.Value(); p != "" {
		return p
	}
	return svctree.DefaultPidfile(app)
}

// newLogger builds the logger from the environment, then the log settings
func newLogger(store *config.Store, settings *svctree.Settings, w io.Writer) *slog.Logger {
	cfg := log.FromEnv()
	cfg.Output = w
	if _, ok := store.Lookup(settings.LogLevel.Path()); ok {
		cfg.Level = settings.LogLevel.Value()
	}
	if _, ok := store.Lookup(settings.LogFormat.Path()); ok {
		cfg.Format = log.Format(settings.LogFormat.Value())
	}
	return log.New(cfg)
}
