package destroyer

import (
	"fmt"
	"os/exec"
	"strconv"
)

// shredExternal invokes the host `shred` utility with flags equivalent
// to `-n <passes> -z -f -u <path>`, per spec.md §4.1. A non-zero exit
// is reported as a failure.
func (d *Destroyer) shredExternal(path string) error {
	passes := d.settings.ShredPasses
	cmd := exec.Command("shred", "-n", strconv.Itoa(passes), "-z", "-f", "-u", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("shred failed: %w (%s)", err, trimOutput(out))
	}
	return nil
}

// wipeExternal invokes the host `wipe` utility recursively.
func (d *Destroyer) wipeExternal(path string) error {
	cmd := exec.Command("wipe", "-rf", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("wipe failed: %w (%s)", err, trimOutput(out))
	}
	return nil
}

func trimOutput(out []byte) string {
	const max = 256
	if len(out) > max {
		out = out[:max]
	}
	return string(out)
}
