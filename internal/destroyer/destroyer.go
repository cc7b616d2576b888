// Package destroyer implements Palioxis's pluggable secure-erasure
// pipeline: a tagged variant over destruction strategies that walks a
// set of target paths and overwrites, unlinks, and rmdirs them in a
// well-defined order with partial-failure accounting.
package destroyer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/SWORDIntel/palioxis/internal/target"
)

// Kind tags the active destruction strategy. Exactly one Kind is active
// per agent run.
type Kind int

const (
	// KindFastOverwrite overwrites each file N times with random data
	// using native file I/O before unlinking it.
	KindFastOverwrite Kind = iota
	// KindShredExternal shells out to the host `shred` utility.
	KindShredExternal
	// KindWipeExternal shells out to the host `wipe` utility.
	KindWipeExternal
	// KindWindowsCipher overwrites once, then shells out to `cipher`
	// to scrub slack space, then unlinks.
	KindWindowsCipher
)

func (k Kind) String() string {
	switch k {
	case KindFastOverwrite:
		return "fast"
	case KindShredExternal:
		return "shred"
	case KindWipeExternal:
		return "wipe"
	case KindWindowsCipher:
		return "windows"
	default:
		return "unknown"
	}
}

// Status is the per-path result of a destroy attempt.
type Status int

const (
	// StatusDestroyed means the path was successfully overwritten
	// and/or unlinked.
	StatusDestroyed Status = iota
	// StatusSkippedMissing means the path did not exist at
	// destruction time; this is never counted as a failure.
	StatusSkippedMissing
	// StatusFailed means destruction of this path did not complete.
	StatusFailed
)

// Outcome is the per-path result of a destroy attempt.
type Outcome struct {
	Path   string
	Status Status
	Reason string // populated only when Status == StatusFailed
}

// Result aggregates the per-path outcomes of a destroy_paths run. A run
// is successful iff no Failed outcome appears; a SkippedMissing outcome
// never counts as a failure.
type Result struct {
	Outcomes []Outcome
}

// Failures returns the subset of outcomes with Status == StatusFailed.
func (r Result) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Successful reports whether the run contains no Failed outcomes.
func (r Result) Successful() bool {
	return len(r.Failures()) == 0
}

// Settings configures a Destroyer instance.
type Settings struct {
	FastPasses  int // default 3
	ShredPasses int // default 9
}

// Destroyer walks Targets and destroys them according to its Kind.
type Destroyer struct {
	kind     Kind
	settings Settings
	logger   *logrus.Entry
}

// New builds a Destroyer for an explicit Kind, bypassing the
// name-based factory substitution in NewFromName. Used internally and
// by tests that want to force a specific strategy.
func New(kind Kind, settings Settings, logger *logrus.Entry) *Destroyer {
	if settings.FastPasses <= 0 {
		settings.FastPasses = 3
	}
	if settings.ShredPasses <= 0 {
		settings.ShredPasses = 9
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Destroyer{kind: kind, settings: settings, logger: logger.WithField("component", "destroyer")}
}

// NewFromName is the Destroyer factory described in spec.md §4.1: it
// maps a configured module name to a Kind, substituting a
// platform-native Kind when the requested one is unavailable on the
// current OS, and falling back to FastOverwrite for an unrecognized
// name. It never returns an error — selection always succeeds.
func NewFromName(name string, settings Settings, logger *logrus.Entry) *Destroyer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	kind, ok := kindByName(name)
	if !ok {
		logger.WithField("requested", name).Warn("destroyer: unrecognized module, falling back to fast")
		kind = KindFastOverwrite
	}

	if runtime.GOOS == "windows" && (kind == KindShredExternal || kind == KindWipeExternal) {
		logger.WithFields(logrus.Fields{"requested": kind, "platform": runtime.GOOS}).
			Warn("destroyer: requested module unavailable on this platform, substituting windows")
		kind = KindWindowsCipher
	}
	if runtime.GOOS != "windows" && kind == KindWindowsCipher {
		logger.WithFields(logrus.Fields{"requested": kind, "platform": runtime.GOOS}).
			Warn("destroyer: windows module requested on a non-windows platform, substituting fast")
		kind = KindFastOverwrite
	}

	return New(kind, settings, logger)
}

func kindByName(name string) (Kind, bool) {
	switch name {
	case "fast":
		return KindFastOverwrite, true
	case "shred":
		return KindShredExternal, true
	case "wipe":
		return KindWipeExternal, true
	case "windows":
		return KindWindowsCipher, true
	default:
		return KindFastOverwrite, false
	}
}

// Kind reports the active destruction strategy.
func (d *Destroyer) Kind() Kind {
	return d.kind
}

// DestroyPaths destroys every target in order, never short-circuiting
// on a per-path failure: iteration continues through the full list and
// the aggregate Result is the union of all per-path outcomes.
//
// An empty path list yields an empty, successful Result (idempotence,
// spec.md §8).
func (d *Destroyer) DestroyPaths(targets []target.Target) Result {
	var result Result

	for _, t := range targets {
		if t.Path == "" {
			continue
		}

		info, err := os.Lstat(t.Path)
		if err != nil {
			if os.IsNotExist(err) {
				d.logger.WithField("path", t.Path).Warn("destroyer: target does not exist")
				result.Outcomes = append(result.Outcomes, Outcome{Path: t.Path, Status: StatusSkippedMissing})
				continue
			}
			result.Outcomes = append(result.Outcomes, Outcome{Path: t.Path, Status: StatusFailed, Reason: err.Error()})
			continue
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if err := os.Remove(t.Path); err != nil {
				result.Outcomes = append(result.Outcomes, Outcome{Path: t.Path, Status: StatusFailed, Reason: err.Error()})
			} else {
				result.Outcomes = append(result.Outcomes, Outcome{Path: t.Path, Status: StatusDestroyed})
			}
		case info.IsDir():
			result.Outcomes = append(result.Outcomes, d.destroyDir(t.Path)...)
		default:
			result.Outcomes = append(result.Outcomes, d.destroyFileOutcome(t.Path))
		}
	}

	return result
}

// destroyFileOutcome destroys a single regular (or special) file and
// reports its outcome. Special files (sockets, FIFOs, devices) are
// unlinked but never opened for overwrite.
func (d *Destroyer) destroyFileOutcome(path string) Outcome {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Outcome{Path: path, Status: StatusSkippedMissing}
		}
		return Outcome{Path: path, Status: StatusFailed, Reason: err.Error()}
	}

	if !info.Mode().IsRegular() {
		if err := os.Remove(path); err != nil {
			return Outcome{Path: path, Status: StatusFailed, Reason: err.Error()}
		}
		return Outcome{Path: path, Status: StatusDestroyed}
	}

	if err := d.destroyFile(path, info); err != nil {
		return Outcome{Path: path, Status: StatusFailed, Reason: err.Error()}
	}
	return Outcome{Path: path, Status: StatusDestroyed}
}

// destroyFile dispatches to the strategy-specific single-file
// destruction routine.
func (d *Destroyer) destroyFile(path string, info fs.FileInfo) error {
	switch d.kind {
	case KindFastOverwrite:
		return d.fastOverwrite(path, info.Size())
	case KindShredExternal:
		return d.shredExternal(path)
	case KindWipeExternal:
		return d.wipeExternal(path)
	case KindWindowsCipher:
		return d.windowsCipher(path, info.Size())
	default:
		return fmt.Errorf("destroyer: unknown kind %v", d.kind)
	}
}

// destroyDir performs a post-order (children before parents) walk of a
// directory Target: every regular file is destroyed first, then each
// now-empty subdirectory is removed from the deepest level upward,
// and finally the target root itself is removed. The walk is
// link-aware: symlinks encountered inside the subtree are unlinked,
// never followed, so the Destroyer never escapes the Target subtree.
func (d *Destroyer) destroyDir(root string) []Outcome {
	var outcomes []Outcome
	var dirs []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			outcomes = append(outcomes, Outcome{Path: path, Status: StatusFailed, Reason: err.Error()})
			return nil
		}

		if entry.IsDir() {
			dirs = append(dirs, path)
			return nil
		}

		// entry.Type()&ModeSymlink catches symlinks to files and to
		// directories alike; either way we unlink, never traverse.
		if entry.Type()&os.ModeSymlink != 0 {
			if rmErr := os.Remove(path); rmErr != nil {
				outcomes = append(outcomes, Outcome{Path: path, Status: StatusFailed, Reason: rmErr.Error()})
			} else {
				outcomes = append(outcomes, Outcome{Path: path, Status: StatusDestroyed})
			}
			return nil
		}

		outcomes = append(outcomes, d.destroyFileOutcome(path))
		return nil
	})
	if err != nil {
		outcomes = append(outcomes, Outcome{Path: root, Status: StatusFailed, Reason: err.Error()})
		return outcomes
	}

	// Remove directories deepest-first so children are always gone
	// before their parent is rmdir'd. WalkDir visits top-down, so
	// reversing the collected order gives deepest-first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil {
			if !os.IsNotExist(err) {
				outcomes = append(outcomes, Outcome{Path: dirs[i], Status: StatusFailed, Reason: err.Error()})
			}
		} else {
			outcomes = append(outcomes, Outcome{Path: dirs[i], Status: StatusDestroyed})
		}
	}

	return outcomes
}
