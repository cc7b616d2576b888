package destroyer

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// windowsCipher implements the WindowsCipher strategy: overwrite the
// file once with random data, invoke `cipher /w:<dir>` to scrub slack
// space in its containing directory, then unlink. A cipher failure is
// logged and does not abort the unlink — the Python original and the
// spec both treat `cipher` as a best-effort slack-space scrub, not a
// hard requirement for the file itself to be gone.
func (d *Destroyer) windowsCipher(path string, size int64) error {
	if size > 0 {
		if err := overwritePass(path, size); err != nil {
			return fmt.Errorf("overwrite before cipher: %w", err)
		}
	}

	dir := filepath.Dir(path)
	cmd := exec.Command("cipher", "/w:"+dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		d.logger.WithFields(logrus.Fields{
			"path":   path,
			"dir":    dir,
			"output": trimOutput(out),
		}).Warn("destroyer: cipher slack-space scrub failed, continuing with unlink")
	}

	return os.Remove(path)
}
