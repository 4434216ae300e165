package cmd

import (
	"errors"
	"fmt"
	"os"

	"vsmp/config"
	"vsmp/core/epd"
	"vsmp/core/player"
	"vsmp/core/state"
	"vsmp/core/video"
	"vsmp/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vsmp",
	Short: "vsmp plays a movie on an e-paper panel, one frame per invocation.",
	Long: `vsmp advances a movie across an e-paper panel one frame at a time.
Each invocation is a single atomic tick: it loads the persisted cursor,
extracts and renders one frame, and only then advances the cursor. Drive it
from cron or a systemd timer; a non-zero exit means the tick failed with the
cursor untouched and is safe to retry next interval.`,
	Run: func(cmd *cobra.Command, args []string) {
		runTick()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads and validates configuration and brings up logging. Validation
// happens before any hardware or state I/O; a configuration error aborts
// with nothing partially applied.
func setup() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})
	return cfg
}

// newController wires the production collaborators for the configured
// panel.
func newController(cfg *config.Config) *player.Controller {
	store := state.NewStore(cfg.StateFile, cfg.Step)
	extractor := video.NewExtractor(cfg.FFmpegPath, cfg.FastSeek)
	adapter := epd.NewAdapter(newPanel(cfg), cfg.RenderTimeout)
	return player.New(cfg, store, extractor, adapter)
}

func newPanel(cfg *config.Config) epd.Panel {
	if cfg.Panel == "sim" {
		return epd.NewSimPanel(cfg.SimOutput, cfg.PanelWidth, cfg.PanelHeight)
	}
	return epd.NewEPD7in5V2()
}

// runTick executes one tick and maps its outcome to the process exit code:
// 0 for a completed tick or a deliberate no-op, 1 for a failed tick with
// state untouched.
func runTick() {
	cfg := setup()
	ctrl := newController(cfg)

	if err := ctrl.Tick(); err != nil {
		if errors.Is(err, state.ErrTickInProgress) {
			logger.Warn("a tick is already in progress, exiting")
			return
		}
		logger.Error("tick failed", logger.ErrorField(err))
		os.Exit(1)
	}
}
