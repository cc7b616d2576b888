package system

import "testing"

func TestCollectReturnsHostname(t *testing.T) {
	info := Collect()
	if info.Hostname == "" {
		t.Error("expected a non-empty hostname")
	}
	if info.OS == "" {
		t.Error("expected a non-empty OS")
	}
}

func TestOverlapsExactMatch(t *testing.T) {
	info := Info{CriticalPaths: []string{"/etc"}}
	if p, ok := info.Overlaps("/etc"); !ok || p != "/etc" {
		t.Errorf("Overlaps(/etc) = %q, %v; want /etc, true", p, ok)
	}
}

func TestOverlapsSubPath(t *testing.T) {
	info := Info{CriticalPaths: []string{"/etc"}}
	if _, ok := info.Overlaps("/etc/shadow"); !ok {
		t.Error("expected /etc/shadow to overlap critical path /etc")
	}
}

func TestOverlapsDoesNotFalsePositiveOnPrefixCollision(t *testing.T) {
	info := Info{CriticalPaths: []string{"/etc"}}
	if _, ok := info.Overlaps("/etcetera"); ok {
		t.Error("expected /etcetera to NOT overlap /etc (not a path-separated prefix)")
	}
}

func TestOverlapsNoMatch(t *testing.T) {
	info := Info{CriticalPaths: []string{"/etc", "/boot"}}
	if _, ok := info.Overlaps("/tmp/x"); ok {
		t.Error("expected no overlap for an unrelated path")
	}
}
