// Package tts holds the speech synthesis engines. Every engine writes a
// playable WAV artifact to the path the pipeline asks for.
package tts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// saveArtifact streams r into path through a temp file so a failed download
// never leaves a truncated artifact behind.
func saveArtifact(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tts-*")
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("empty audio")
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
