package destroyer

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

const maxChunkSize = 1024 * 1024 // 1 MiB, per spec.md §4.1

// fastOverwrite implements the FastOverwrite strategy: N passes of
// cryptographically random data written in place, flushed between
// passes, followed by unlink. Zero-length files are unlinked directly
// without an overwrite pass.
func (d *Destroyer) fastOverwrite(path string, size int64) error {
	if size == 0 {
		return os.Remove(path)
	}

	for pass := 0; pass < d.settings.FastPasses; pass++ {
		if err := overwritePass(path, size); err != nil {
			return fmt.Errorf("pass %d/%d: %w", pass+1, d.settings.FastPasses, err)
		}
	}

	return os.Remove(path)
}

func overwritePass(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open for overwrite: %w", err)
	}
	defer f.Close()

	chunkSize := int64(maxChunkSize)
	if size < chunkSize {
		chunkSize = size
	}

	remaining := size
	for remaining > 0 {
		writeSize := chunkSize
		if remaining < writeSize {
			writeSize = remaining
		}
		if _, err := io.CopyN(f, randReader{}, writeSize); err != nil {
			return fmt.Errorf("write random data: %w", err)
		}
		remaining -= writeSize
	}

	return f.Sync()
}

// randReader adapts crypto/rand.Read to io.Reader so io.CopyN can drive
// it; io.CopyN copies through its own intermediate buffer on each call.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}
