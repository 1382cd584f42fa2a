// Package capability determines, once per process, whether the host can
// provide true OS-level isolation: PID / mount namespace creation, cgroup
// delegation and the active seccomp enforcement level. The verdict gates
// whether sessions attempt namespace wrapping at all, so every probe
// failure degrades to a conservative development verdict instead of
// returning an error.
package capability

import (
	"os"
	"sync"
)

// Mode is the overall isolation verdict for this host.
type Mode int

// Isolation verdicts.
const (
	ModeUnknown Mode = iota
	ModeDevelopment
	ModeProduction
)

func (m Mode) String() string {
	switch m {
	case ModeProduction:
		return "production"
	case ModeDevelopment:
		return "development"
	default:
		return "unknown"
	}
}

// SeccompUnknown is the sentinel seccomp mode when /proc is unreadable.
const SeccompUnknown = -1

// EnvIsolation short-circuits the probe when set by an earlier bootstrap
// phase. Accepted values are "true" and "false"; anything else is ignored
// and the active probe runs.
const EnvIsolation = "SANDBOX_ISOLATION"

// Capabilities is the immutable probe result.
type Capabilities struct {
	HasNamespaces       bool
	HasCapSysAdmin      bool
	HasCgroupDelegation bool
	SeccompMode         int
	Mode                Mode
}

var (
	detectOnce sync.Once
	detected   Capabilities
)

// Detect returns the host capability verdict, probing at most once per
// process lifetime. Probing spawns a child process and can take tens of
// milliseconds, so callers share the memoized result.
func Detect() Capabilities {
	detectOnce.Do(func() {
		detected = detect()
	})
	return detected
}

// Reset clears the memoized verdict. Test hook only.
func Reset() {
	detectOnce = sync.Once{}
	detected = Capabilities{}
}

func detect() Capabilities {
	// Trust an externally supplied verdict verbatim.
	switch os.Getenv(EnvIsolation) {
	case "true":
		return Capabilities{
			HasNamespaces:       true,
			HasCapSysAdmin:      true,
			HasCgroupDelegation: probeCgroup(),
			SeccompMode:         readSeccompMode(),
			Mode:                ModeProduction,
		}
	case "false":
		return Capabilities{SeccompMode: readSeccompMode(), Mode: ModeDevelopment}
	}

	if !probeNamespaces() {
		return Capabilities{SeccompMode: SeccompUnknown, Mode: ModeDevelopment}
	}
	return Capabilities{
		HasNamespaces:       true,
		HasCapSysAdmin:      true,
		HasCgroupDelegation: probeCgroup(),
		SeccompMode:         readSeccompMode(),
		Mode:                ModeProduction,
	}
}
