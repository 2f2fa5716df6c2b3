// Package version exposes the build metadata stamped into the binary plus a
// per-process instance identity. The info shows up in log fields, the otel
// resource, and the health endpoint.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Stamped at build time via
// -ldflags "-X apigate/internal/version.<name>=...".
var (
	Version   = "unknown"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info bundles the build stamps with runtime identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the build info. The instance id and hostname are resolved
// once and reused for the process lifetime, so an instance keeps one
// identity across all its telemetry.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   getHostname(),
		}
	})
	return info
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// String renders the info for --version style output.
func (i Info) String() string {
	return fmt.Sprintf("apigate version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
