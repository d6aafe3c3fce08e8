package safepoint

import "github.com/kolkov/safepoint/internal/safepoint/allocctx"

// Version information for the Pure-Go GC Safepoint Runtime.
const (
	// Version is the current version of the runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the safepoint layer.
type Info struct {
	// Version is the runtime version string.
	Version string

	// SuspensionModel names the thread-suspension protocol in use.
	SuspensionModel string

	// SamplingMeanBytes is the mean of the allocation sampling
	// distribution.
	SamplingMeanBytes int
}

// GetInfo returns information about the safepoint runtime.
//
// Example:
//
//	info := safepoint.GetInfo()
//	fmt.Printf("safepoint %s (%s)\n", info.Version, info.SuspensionModel)
func GetInfo() Info {
	return Info{
		Version:           Version,
		SuspensionModel:   "cooperative trap-flag handshake",
		SamplingMeanBytes: allocctx.SamplingMeanBytes,
	}
}
