package digest

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes the digest to dir with a name derived from the run
// timestamp, creating dir if needed. Returns the written path. This is the
// one delivery channel whose failure is fatal to a run.
func WriteFile(dir string, d *Digest) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, Filename(d))
	if err := os.WriteFile(path, []byte(d.Content), 0o644); err != nil {
		return "", fmt.Errorf("write digest: %w", err)
	}
	return path, nil
}

// Filename is deterministic for a given run timestamp.
func Filename(d *Digest) string {
	return "digest-" + d.RunAt.UTC().Format("20060102-150405") + ".md"
}
