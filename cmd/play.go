package cmd

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vsmp/core/state"
	"vsmp/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run ticks continuously without an external scheduler",
	Long: `Runs the same atomic tick in a loop, sleeping VSMP_PLAY_INTERVAL between
frames. Each iteration still takes the tick lock and persists the cursor, so
killing the loop at any point leaves the same on-disk state as a scheduled
setup. The movie directory is watched so a swapped source is noticed between
ticks.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup()
		ctrl := newController(cfg)

		var events chan fsnotify.Event
		var watchErrs chan error
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if err := watcher.Add(cfg.MovieDir); err != nil {
				logger.Warn("cannot watch movie dir", logger.ErrorField(err))
			} else {
				events = watcher.Events
				watchErrs = watcher.Errors
			}
		} else {
			logger.Warn("fsnotify unavailable", logger.ErrorField(err))
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(cfg.PlayInterval)
		defer ticker.Stop()

		runOnce := func() {
			if err := ctrl.Tick(); err != nil {
				if errors.Is(err, state.ErrTickInProgress) {
					logger.Warn("skipping tick, another one is in progress")
					return
				}
				// Same contract as the scheduled mode: state is
				// untouched, the next interval retries.
				logger.Error("tick failed, retrying next interval", logger.ErrorField(err))
			}
		}

		logger.Info("play loop started",
			logger.Duration("interval", cfg.PlayInterval))
		runOnce()

		for {
			select {
			case <-ticker.C:
				runOnce()
			case ev := <-events:
				// A swapped source should show up now, not after the
				// rest of a multi-hour interval.
				if sourceChanged(ev) {
					logger.Info("movie directory changed, ticking immediately",
						logger.String("file", ev.Name),
						logger.String("op", ev.Op.String()))
					ticker.Reset(cfg.PlayInterval)
					runOnce()
				}
			case err := <-watchErrs:
				logger.Warn("movie dir watch error", logger.ErrorField(err))
			case <-sig:
				logger.Info("play loop stopping")
				return
			}
		}
	},
}

// sourceChanged reports whether a watch event means the set of playable
// sources changed. Writes are ignored: a movie mid-download fires one per
// chunk, and the file only becomes playable once it is created or renamed
// into place.
func sourceChanged(ev fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".mp4") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Rename) != 0
}

func init() {
	rootCmd.AddCommand(playCmd)
}
