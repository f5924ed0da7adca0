package svctree

// Version is the current version of the go-svctree library
const Version = "0.1.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Spawners lists the available spawner kinds
	Spawners []SpawnerKind
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:  Version,
		Spawners: []SpawnerKind{SpawnerGoroutine, SpawnerSerial},
	}
}
