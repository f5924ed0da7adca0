package svctree

import (
	"io/fs"
	"time"
)

// Lifecycle defaults
const (
	// DefaultStartTimeout is how long a blocking Start waits for a service
	// that deferred readiness
	DefaultStartTimeout = 2 * time.Second

	// DefaultGracePeriod is how long Spawner.Stop waits for tasks to finish
	// on their own before cancelling them
	DefaultGracePeriod = 1 * time.Second

	// DefaultKillTimeout is how long Spawner.Stop waits for cancelled tasks
	// before abandoning them
	DefaultKillTimeout = 1 * time.Second

	// DefaultWatchDebounce coalesces bursts of config file events
	DefaultWatchDebounce = 25 * time.Millisecond

	// DefaultManagerConcurrency is the default number of concurrent Manager operations
	DefaultManagerConcurrency = 10

	// DefaultManagerTimeout is the default per-operation Manager timeout
	DefaultManagerTimeout = 5 * time.Second
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for pid and status files
	FileMode = 0o644
)

// DefaultUmask is applied by Process when the umask setting is absent
var DefaultUmask fs.FileMode = 0o022

// Operation identifies a lifecycle operation in errors and logs
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpStart starts a service tree
	OpStart
	// OpStop stops a service tree
	OpStop
	// OpReload reloads a service tree
	OpReload
	// OpWait waits for a state
	OpWait
	// OpSpawn schedules a task
	OpSpawn
	// OpStatus reads service state
	OpStatus
)

// Operation string constants
const (
	opUnknownStr = "unknown"
	opStartStr   = "start"
	opStopStr    = "stop"
	opReloadStr  = "reload"
	opWaitStr    = "wait"
	opSpawnStr   = "spawn"
	opStatusStr  = "status"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpStart:
		return opStartStr
	case OpStop:
		return opStopStr
	case OpReload:
		return opReloadStr
	case OpWait:
		return opWaitStr
	case OpSpawn:
		return opSpawnStr
	case OpStatus:
		return opStatusStr
	default:
		return opUnknownStr
	}
}
