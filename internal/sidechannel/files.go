// Package sidechannel mirrors interaction text and images into plain files that
// an external renderer polls. Every write replaces the whole file.
package sidechannel

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	UserTextFile   = "llm_input.txt"
	ReplyFile      = "llm_output.txt"
	StateFile      = "app_state.txt"
	TranscriptFile = "live_transcript_output.txt"
	ImageFile      = "current_character_image.png"
)

// Files writes the side-channel files under one directory.
type Files struct {
	dir    string
	logger *zap.Logger
}

// New creates dir if needed.
func New(dir string, logger *zap.Logger) (*Files, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create side-channel dir: %w", err)
	}
	return &Files{dir: dir, logger: logger.With(zap.String("component", "sidechannel"))}, nil
}

// Dir returns the directory the files live in.
func (f *Files) Dir() string { return f.dir }

// Path returns the absolute location of a side-channel file.
func (f *Files) Path(name string) string { return filepath.Join(f.dir, name) }

// Reset clears the text files and records the given state label.
func (f *Files) Reset(stateLabel string) error {
	for _, name := range []string{UserTextFile, ReplyFile, TranscriptFile} {
		if err := f.write(name, nil); err != nil {
			return err
		}
	}
	return f.WriteState(stateLabel)
}

func (f *Files) WriteState(label string) error { return f.write(StateFile, []byte(label)) }
func (f *Files) WriteUserText(text string) error { return f.write(UserTextFile, []byte(text)) }
func (f *Files) WriteReply(text string) error { return f.write(ReplyFile, []byte(text)) }
func (f *Files) WriteTranscript(text string) error { return f.write(TranscriptFile, []byte(text)) }
func (f *Files) ClearTranscript() error { return f.write(TranscriptFile, nil) }

// ShowImage copies the asset at path over the current image file.
func (f *Files) ShowImage(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer src.Close()
	return f.replace(ImageFile, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

func (f *Files) write(name string, data []byte) error {
	return f.replace(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// replace writes through a temp file in the same directory and renames it into
// place, so a poller never sees a partial file.
func (f *Files) replace(name string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(f.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		f.logger.Debug("chmod side-channel file failed", zap.String("file", name), zap.Error(err))
	}
	if err := os.Rename(tmpName, f.Path(name)); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
