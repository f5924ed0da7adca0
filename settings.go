package svctree

import (
	"io/fs"
	"time"

	"github.com/axondata/go-svctree/config"
)

// Settings are the config paths read by Process and the svctree command
type Settings struct {
	Pidfile       *config.Setting[string]
	Statusfile    *config.Setting[string]
	Rundir        *config.Setting[string]
	Umask         *config.Setting[fs.FileMode]
	Spawner       *config.Setting[string]
	StartTimeout  *config.Setting[time.Duration]
	StopGrace     *config.Setting[time.Duration]
	Watch         *config.Setting[bool]
	MetricsListen *config.Setting[string]
	LogLevel      *config.Setting[string]
	LogFormat     *config.Setting[string]
}

// DefineSettings registers the process settings with store
func DefineSettings(store *config.Store) *Settings {
	return &Settings{
		Pidfile: config.NewSetting(store, "pidfile", "",
			"Path to the pidfile written while running"),
		Statusfile: config.NewSetting(store, "statusfile", "",
			"Path to a YAML file updated with the state of the service tree"),
		Rundir: config.NewSetting(store, "rundir", "",
			"Change to this directory before starting, creating it if needed"),
		Umask: config.NewSetting(store, "umask", DefaultUmask,
			"File mode creation mask applied before starting"),
		Spawner: config.NewSetting(store, "spawner", SpawnerGoroutine.String(),
			"Task spawner kind: goroutine or serial"),
		StartTimeout: config.NewSetting(store, "start_timeout", DefaultStartTimeout,
			"How long start waits for a service to become ready"),
		StopGrace: config.NewSetting(store, "stop_grace", DefaultGracePeriod,
			"How long stop waits for tasks before cancelling them"),
		Watch: config.NewSetting(store, "config.watch", false,
			"Reload when the config file changes"),
		MetricsListen: config.NewSetting(store, "metrics.listen", "",
			"Address to serve Prometheus metrics on, empty to disable"),
		LogLevel: config.NewSetting(store, "log.level", "info",
			"Log level: debug, info, warn or error"),
		LogFormat: config.NewSetting(store, "log.format", "text",
			"Log format: text or json"),
	}
}

// ServiceOptions returns the service options the settings describe
func (s *Settings) ServiceOptions() []ServiceOption {
	kind, err := ParseSpawnerKind(s.Spawner.Value())
	if err != nil {
		kind = SpawnerGoroutine
	}
	return []ServiceOption{
		WithStartTimeout(s.StartTimeout.Value()),
		WithStopGrace(s.StopGrace.Value()),
		WithSpawnerKind(kind),
	}
}
