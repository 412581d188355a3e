package sumatra

import (
	"os"
	"os/user"
	"runtime"

	"github.com/pbnjay/memory"
)

// PlatformInformation describes the machine a run was executed on.
type PlatformInformation struct {
	SystemName   string `json:"system_name"`
	Architecture string `json:"architecture"`
	Hostname     string `json:"hostname,omitempty"`
	Processors   int    `json:"processors"`
	TotalMemory  uint64 `json:"total_memory"`
	GoVersion    string `json:"go_version"`
}

// CapturePlatform records the current host.
func CapturePlatform() PlatformInformation {
	hostname, _ := os.Hostname()

	return PlatformInformation{
		SystemName:   runtime.GOOS,
		Architecture: runtime.GOARCH,
		Hostname:     hostname,
		Processors:   runtime.NumCPU(),
		TotalMemory:  memory.TotalMemory(),
		GoVersion:    runtime.Version(),
	}
}

// CurrentUser returns the launching user, falling back to the USER
// environment variable.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}

	return os.Getenv("USER")
}
