package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"

	svctree "github.com/axondata/go-svctree"
	"github.com/axondata/go-svctree/internal/log"
	"github.com/axondata/go-svctree/internal/unix"
)

func newRunCommand(flags *globalFlags, apps *registry) *cobra.Command {
	return &cobra.Command{
		Use:   "run <app>",
		Short: "Run an app in the foreground until it is stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, flags, apps, args[0])
		},
	}
}

func runApp(cmd *cobra.Command, flags *globalFlags, apps *registry, name string) error {
	store, settings, err := flags.loadStore()
	if err != nil {
		return err
	}
	if settings.Pidfile.Value() == "" {
		store.Set(settings.Pidfile.Path(), svctree.DefaultPidfile(name))
	}

	logger := newLogger(store, settings, cmd.ErrOrStderr())
	opts := append(settings.ServiceOptions(), svctree.WithLogger(logger))

	app, err := apps.Build(name, appDeps{Store: store, Logger: logger, Options: opts})
	if err != nil {
		return err
	}

	proc := svctree.NewProcess(app, store,
		svctree.WithProcessName(name),
		svctree.WithProcessLogger(log.WithComponent(logger, "process")))
	return proc.ServeForever(cmd.Context())
}

func newStopCommand(flags *globalFlags) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop <app>",
		Short: "Stop a running app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopApp(cmd, flags, args[0], wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the process to exit, 0 to return at once")
	return cmd
}

func stopApp(cmd *cobra.Command, flags *globalFlags, name string, wait time.Duration) error {
	_, settings, err := flags.loadStore()
	if err != nil {
		return err
	}
	pid, err := svctree.RunningPid(pidfilePath(settings, name))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stopping process %d...\n", pid)
	if err := unix.Signal(pid, unix.StopSignals[0]); err != nil {
		return err
	}
	if wait <= 0 {
		return nil
	}

	deadline := time.Now().Add(wait)
	for unix.Alive(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("process %d still running after %s", pid, wait)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func newRestartCommand(flags *globalFlags, apps *registry) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <app>",
		Short: "Stop a running app if there is one, then run it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopApp(cmd, flags, args[0], 10*time.Second); err != nil && !errors.Is(err, svctree.ErrNotRunning) {
				return err
			}
			return runApp(cmd, flags, apps, args[0])
		},
	}
}

func newReloadCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <app>",
		Short: "Ask a running app to reload its configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if unix.ReloadSignal == nil {
				return errors.New("reload is not supported on this platform")
			}
			_, settings, err := flags.loadStore()
			if err != nil {
				return err
			}
			pid, err := svctree.RunningPid(pidfilePath(settings, args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reloading process %d...\n", pid)
			return unix.Signal(pid, unix.ReloadSignal)
		},
	}
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <app>",
		Short: "Show whether an app is running and the state of its services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, settings, err := flags.loadStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			pid, err := svctree.RunningPid(pidfilePath(settings, args[0]))
			if err != nil {
				fmt.Fprintln(out, "Process is NOT running.")
				return err
			}
			fmt.Fprintf(out, "Process is running as %d.\n", pid)

			path := settings.Statusfile.Value()
			if path == "" {
				return nil
			}
			rec, err := svctree.ReadStatus(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			printStatus(cmd, rec, 0)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, rec svctree.StatusRecord, depth int) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s: %s (since %s)\n",
		strings.Repeat("  ", depth), rec.Service, rec.State, rec.Since.Format(time.RFC3339))
	for _, child := range rec.Children {
		printStatus(cmd, child, depth+1)
	}
}

func newSettingsCommand(flags *globalFlags) *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "List the settings read by svctree and their current values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := flags.loadStore()
			if err != nil {
				return err
			}
			return store.WriteHelp(cmd.OutOrStdout(), defaults)
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show defaults instead of current values")
	return cmd
}

func newAppsCommand(apps *registry) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the apps that can be run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range apps.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %s\n", name, apps.apps[name].help)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the library version and available spawner kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := svctree.GetVersion()
			kinds := make([]string, len(info.Spawners))
			for i, k := range info.Spawners {
				kinds[i] = k.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "svctree %s (spawners: %s)\n", info.Version, strings.Join(kinds, ", "))
			return nil
		},
	}
}
