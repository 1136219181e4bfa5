package main

import (
	"github.com/spf13/cobra"

	"github.com/chadiek/improv/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "improv",
	Short: "Turn-based voice interaction with animated characters",
	Long: `improv records what you say, transcribes it, lets the active character
answer in its own voice and mirrors every state change to connected renderers.

Configuration comes from the environment and an optional .env file; flags
override it.`,
	SilenceUsage: true,
}

var (
	flagDataDir       string
	flagCharactersDir string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for side-channel files and artifacts (DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagCharactersDir, "characters-dir", "", "directory of character definitions (CHARACTERS_DIR)")
}

// loadConfig reads the environment and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.Load()
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = flagDataDir
		if !flags.Changed("characters-dir") && !envSet("CHARACTERS_DIR") {
			cfg.CharactersDir = defaultCharactersDir(cfg.DataDir)
		}
	}
	if flags.Changed("characters-dir") {
		cfg.CharactersDir = flagCharactersDir
	}
	return cfg
}
