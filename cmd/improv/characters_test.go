package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharactersCommandListsRoster(t *testing.T) {
	t.Chdir(t.TempDir())
	root := t.TempDir()
	for id, name := range map[string]string{"robot": "Robo", "alien": "Zorp"} {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		body := "name: " + name + "\nvoice: af_heart\nimages:\n  neutral: n.png\n  happy: h.png\n  talking: t.png\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"characters", "--characters-dir", root})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	require.NoError(t, rootCmd.Execute())

	text := out.String()
	assert.Contains(t, text, "alien *")
	assert.Contains(t, text, "Robo")
	assert.Contains(t, text, "happy, neutral")
	assert.NotContains(t, text, "talking")
}

func TestCharactersCommandMissingDir(t *testing.T) {
	t.Chdir(t.TempDir())
	rootCmd.SetArgs([]string{"characters", "--characters-dir", filepath.Join(t.TempDir(), "nope")})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetErr(nil) })
	assert.Error(t, rootCmd.Execute())
}
