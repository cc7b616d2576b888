package agent

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SWORDIntel/palioxis/internal/destroyer"
	"github.com/SWORDIntel/palioxis/internal/target"
)

const mediaRoot = "/media"

// destroyEncryptedVolumes implements the encrypted-volume hook of
// spec.md §4.5.1: if the host `truecrypt` utility exists and any mount
// under /media contains the substring "truecrypt", each such mount is
// destroyed as an additional target directory, then all volumes are
// dismounted with `truecrypt -d`. Absence of the utility or of any
// matching mount is silent, matching the Python original.
func (a *Agent) destroyEncryptedVolumes(d *destroyer.Destroyer, log *logrus.Entry) {
	if err := exec.Command("truecrypt", "--version").Run(); err != nil {
		return
	}

	entries, err := os.ReadDir(mediaRoot)
	if err != nil {
		return
	}

	var volumes []target.Target
	for _, entry := range entries {
		if strings.Contains(entry.Name(), "truecrypt") {
			volumes = append(volumes, target.Target{
				Path: filepath.Join(mediaRoot, entry.Name()),
				Kind: target.KindDirectory,
			})
		}
	}
	if len(volumes) == 0 {
		return
	}

	log.WithField("volumes", len(volumes)).Info("agent: destroying mounted TrueCrypt volumes")
	result := d.DestroyPaths(volumes)
	if !result.Successful() {
		log.WithField("failures", len(result.Failures())).Warn("agent: TrueCrypt volume destruction reported failures")
	}

	if err := exec.Command("truecrypt", "-d").Run(); err != nil {
		log.WithError(err).Warn("agent: failed to dismount TrueCrypt volumes")
	}
}
