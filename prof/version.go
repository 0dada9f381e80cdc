package prof

import "github.com/kolkov/cycleprof/internal/prof/api"

// Version information for the cycleprof runtime.
const (
	// Version is the current version of the profiler runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the profiler.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Format describes the dump payload.
	Format string

	// Enabled indicates whether hooks are recording.
	Enabled bool
}

// GetInfo returns information about the profiler runtime.
//
// Example:
//
//	info := prof.GetInfo()
//	fmt.Printf("cycleprof %s (%s)\n", info.Version, info.Format)
func GetInfo() Info {
	return Info{
		Version: Version,
		Format:  "base64 CBOR [fn, cycles] records",
		Enabled: api.Enabled(),
	}
}
