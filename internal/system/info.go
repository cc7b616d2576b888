// Package system collects the small amount of host information the
// self-destruct state machine logs as an advisory before running the
// Destroyer: the host's name, for audit logging, and the platform's
// well-known critical paths, so an operator can see in the log whether
// a configured target overlaps something like /etc or C:\Windows
// before the run proceeds (SPEC_FULL.md §4.5 expansion — advisory
// only, never blocking).
package system

import (
	"os"
	"runtime"
)

// Info is the host information worth recording alongside a destroy run.
type Info struct {
	OS            string
	Hostname      string
	CriticalPaths []string
}

// Collect gathers Info for the current host.
func Collect() Info {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Info{
		OS:            runtime.GOOS,
		Hostname:      hostname,
		CriticalPaths: existingCriticalPaths(),
	}
}

// wellKnownCriticalPaths returns the platform's conventional system
// directories, without regard to whether they exist on this host.
func wellKnownCriticalPaths() []string {
	switch runtime.GOOS {
	case "linux":
		return []string{"/", "/boot", "/bin", "/sbin", "/usr", "/etc", "/var", "/proc", "/sys", "/dev"}
	case "windows":
		return []string{`C:\Windows`, `C:\Windows\System32`, `C:\Program Files`, `C:\Program Files (x86)`, `C:\Users`}
	case "darwin":
		return []string{"/", "/System", "/Library", "/usr", "/bin", "/sbin", "/Applications"}
	default:
		return nil
	}
}

func existingCriticalPaths() []string {
	var existing []string
	for _, path := range wellKnownCriticalPaths() {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	return existing
}

// Overlaps reports whether target lies on or beneath any critical path
// the host reported, a string-prefix heuristic good enough for an
// advisory log line.
func (i Info) Overlaps(target string) (string, bool) {
	for _, p := range i.CriticalPaths {
		if pathOverlaps(p, target) {
			return p, true
		}
	}
	return "", false
}

func pathOverlaps(critical, target string) bool {
	if critical == target {
		return true
	}
	sep := string(os.PathSeparator)
	prefix := critical
	if prefix != sep {
		prefix += sep
	}
	return len(target) > len(prefix) && target[:len(prefix)] == prefix
}
