package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/app"
	"github.com/chadiek/improv/internal/audio/device"
	"github.com/chadiek/improv/internal/config"
	"github.com/chadiek/improv/internal/ptt"
)

var (
	flagAddr    string
	flagNoAudio bool
	flagNoFeed  bool
	flagNoPTT   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP/websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (HTTP_ADDRESS)")
	serveCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "run without microphone and speaker")
	serveCmd.Flags().BoolVar(&flagNoFeed, "no-feed", false, "do not connect to the live transcription feed")
	serveCmd.Flags().BoolVar(&flagNoPTT, "no-ptt", false, "do not read push-to-talk keys from the terminal")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig(cmd)
	if cmd.Flags().Changed("addr") {
		cfg.HTTPAddress = flagAddr
	}
	cfg.NoAudio = flagNoAudio
	cfg.NoFeed = flagNoFeed

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dev app.Devices
	if !cfg.NoAudio {
		speaker := device.NewSpeaker(logger)
		defer speaker.Close()
		dev.Microphone = device.NewMicrophone(logger)
		dev.Speaker = speaker
		if !flagNoPTT {
			dev.Keys = ptt.Terminal{}
		}
	} else {
		logger.Info("audio devices disabled")
	}

	a, err := app.New(ctx, cfg, dev, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	return a.Run(ctx)
}

func defaultCharactersDir(dataDir string) string {
	return filepath.Join(dataDir, "characters")
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}
