package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	"go.uber.org/zap"
)

// Uploader stores one object under key.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// TurnArchive copies recorded utterances to object storage under turns/.
type TurnArchive struct {
	uploader Uploader
	prefix   string
	logger   *zap.Logger
}

func NewTurnArchive(uploader Uploader, logger *zap.Logger) *TurnArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnArchive{
		uploader: uploader,
		prefix:   "turns",
		logger:   logger.With(zap.String("component", "archive")),
	}
}

// Key returns the object key for a pipeline item.
func (a *TurnArchive) Key(itemID string) string {
	return path.Join(a.prefix, itemID+".wav")
}

func (a *TurnArchive) Archive(ctx context.Context, itemID, audioPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	key := a.Key(itemID)
	if err := a.uploader.Upload(key, "audio/wav", data); err != nil {
		return err
	}
	a.logger.Debug("turn archived", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}
