// Package characters loads character definitions from disk. Each character
// lives in its own directory, named by its id, holding a config.yaml or
// config.json record and its image assets.
package characters

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chadiek/improv/internal/domain"
)

var (
	ErrNoConfig      = errors.New("no character config file")
	ErrMissingName   = errors.New("character has no name")
	ErrMissingVoice  = errors.New("character has no voice")
	ErrMissingImages = errors.New("character has no images")
)

var configNames = []string{"config.yaml", "config.yml", "config.json"}

// record is the on-disk shape of a character.
type record struct {
	Name         string            `json:"name" yaml:"name"`
	Voice        string            `json:"voice" yaml:"voice"`
	Images       map[string]string `json:"images" yaml:"images"`
	Instructions string            `json:"instructions" yaml:"instructions"`
}

// Load reads every character directory under root. Unreadable or malformed
// entries are skipped with a warning. The result is sorted by id.
func Load(root string, logger *zap.Logger) ([]domain.Character, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "characters"))

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read characters dir: %w", err)
	}

	var out []domain.Character
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		c, err := LoadOne(filepath.Join(root, e.Name()))
		if err != nil {
			logger.Warn("skipping character", zap.String("id", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	logger.Info("characters loaded", zap.Int("count", len(out)))
	return out, nil
}

// LoadOne reads the character stored in dir. Relative image paths are
// resolved against dir, or against the working directory when only that
// location exists.
func LoadOne(dir string) (domain.Character, error) {
	var (
		raw  []byte
		name string
		err  error
	)
	for _, n := range configNames {
		raw, err = os.ReadFile(filepath.Join(dir, n))
		if err == nil {
			name = n
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return domain.Character{}, fmt.Errorf("read %s: %w", n, err)
		}
	}
	if name == "" {
		return domain.Character{}, ErrNoConfig
	}

	var rec record
	if strings.HasSuffix(name, ".json") {
		err = json.Unmarshal(raw, &rec)
	} else {
		err = yaml.Unmarshal(raw, &rec)
	}
	if err != nil {
		return domain.Character{}, fmt.Errorf("parse %s: %w", name, err)
	}

	switch {
	case strings.TrimSpace(rec.Name) == "":
		return domain.Character{}, ErrMissingName
	case strings.TrimSpace(rec.Voice) == "":
		return domain.Character{}, ErrMissingVoice
	case len(rec.Images) == 0:
		return domain.Character{}, ErrMissingImages
	}

	images := make(map[string]string, len(rec.Images))
	for key, p := range rec.Images {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || p == "" {
			continue
		}
		images[key] = resolveImage(dir, p)
	}

	return domain.Character{
		ID:           filepath.Base(dir),
		Name:         rec.Name,
		Voice:        rec.Voice,
		Images:       images,
		Instructions: strings.TrimSpace(rec.Instructions),
	}, nil
}

// resolveImage locates a relative asset path. Generated configs store paths
// such as ./data/characters/robot/robot_happy.png relative to the working
// directory, hand-written ones usually name the file next to the config.
func resolveImage(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	local := filepath.Join(dir, p)
	if exists(local) {
		return local
	}
	if exists(p) {
		return filepath.Clean(p)
	}
	return local
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
