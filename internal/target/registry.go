// Package target implements the Target Registry: an ordered, append-only
// list of filesystem paths slated for destruction.
package target

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind tags a Target as a file or a directory.
type Kind int

const (
	// KindFile marks a Target expected to be a regular file.
	KindFile Kind = iota
	// KindDirectory marks a Target expected to be a directory tree.
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Target is an absolute filesystem path tagged file or directory.
type Target struct {
	Path string
	Kind Kind
}

// Registry owns an ordered sequence of Targets. Order is registration
// order, kept deterministic across runs for testability. A Registry is
// append-only until Freeze is called, after which Add panics — the
// destroy run must see a fixed, immutable list of targets.
type Registry struct {
	targets []Target
	frozen  bool
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a Target to the registry. It panics if the registry has
// already been frozen, since targets must never be mutated once a
// destroy run may have begun.
func (r *Registry) Add(path string, kind Kind) {
	if r.frozen {
		panic("target: Add called on a frozen Registry")
	}
	r.targets = append(r.targets, Target{Path: path, Kind: kind})
}

// Freeze marks the registry read-only. Calling Freeze more than once is
// a no-op.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Targets returns the registered targets in registration order. The
// returned slice is owned by the caller but its backing array is never
// reused by the Registry, so mutating it does not affect future reads.
func (r *Registry) Targets() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Len reports the number of registered targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

// LoadFromSettings populates a Registry from the `Targets.directories`
// multi-line setting if present, falling back to a `targets.txt` file
// (one path per line) in the current directory, per spec.md §6. Paths
// are classified by stat'ing them; a path that does not currently exist
// is still registered (tagged by its apparent shape: trailing separator
// or no extension defaults to directory) since spec.md §3 allows
// non-existent paths at registration time.
func LoadFromSettings(directories []string, targetsFile string) (*Registry, error) {
	r := NewRegistry()

	lines := directories
	if len(lines) == 0 {
		if targetsFile == "" {
			targetsFile = "targets.txt"
		}
		fileLines, err := readLines(targetsFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read target list %s: %w", targetsFile, err)
		}
		lines = fileLines
	}

	for _, line := range lines {
		path := strings.TrimSpace(line)
		if path == "" {
			continue
		}
		r.Add(path, classify(path))
	}

	return r, nil
}

func classify(path string) Kind {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return KindDirectory
		}
		return KindFile
	}
	if strings.HasSuffix(path, string(filepath.Separator)) || filepath.Ext(path) == "" {
		return KindDirectory
	}
	return KindFile
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
