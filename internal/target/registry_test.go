package target

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryAppendOrder(t *testing.T) {
	r := NewRegistry()
	r.Add("/tmp/a", KindFile)
	r.Add("/tmp/b", KindDirectory)
	r.Add("/tmp/c", KindFile)

	got := r.Targets()
	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	for i, w := range want {
		if got[i].Path != w {
			t.Errorf("Targets()[%d].Path = %q, want %q", i, got[i].Path, w)
		}
	}
	if got[1].Kind != KindDirectory {
		t.Errorf("Targets()[1].Kind = %v, want KindDirectory", got[1].Kind)
	}
}

func TestRegistryFreezePanicsOnAdd(t *testing.T) {
	r := NewRegistry()
	r.Add("/tmp/a", KindFile)
	r.Freeze()

	if !r.Frozen() {
		t.Fatal("expected Frozen() to be true after Freeze")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected Add after Freeze to panic")
		}
	}()
	r.Add("/tmp/b", KindFile)
}

func TestRegistryTargetsReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Add("/tmp/a", KindFile)

	got := r.Targets()
	got[0].Path = "mutated"

	if r.Targets()[0].Path != "/tmp/a" {
		t.Error("mutating the returned slice must not affect the registry")
	}
}

func TestLoadFromSettingsPrefersDirectories(t *testing.T) {
	r, err := LoadFromSettings([]string{"/tmp/x", "/tmp/y"}, "")
	if err != nil {
		t.Fatalf("LoadFromSettings: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestLoadFromSettingsFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.txt")
	if err := os.WriteFile(path, []byte("/tmp/one\n/tmp/two\n\n# not a comment in this format\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := LoadFromSettings(nil, path)
	if err != nil {
		t.Fatalf("LoadFromSettings: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (targets.txt has no comment syntax)", r.Len())
	}
}

func TestLoadFromSettingsMissingFileIsEmpty(t *testing.T) {
	r, err := LoadFromSettings(nil, filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil {
		t.Fatalf("LoadFromSettings should tolerate a missing file: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}
