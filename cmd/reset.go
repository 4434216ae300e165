package cmd

import (
	"fmt"
	"os"

	"vsmp/core/state"
	"vsmp/logger"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Archive the playback state and start over from frame zero",
	Long: `The explicit way to discard a cursor. The existing state file is archived
next to itself, never deleted, so a mistaken reset can be undone by hand.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup()
		ctrl := newController(cfg)

		source, err := ctrl.ResolveSource()
		if err != nil {
			logger.Error("no source", logger.ErrorField(err))
			os.Exit(1)
		}
		fingerprint, err := state.Fingerprint(source)
		if err != nil {
			logger.Error("cannot fingerprint source", logger.ErrorField(err))
			os.Exit(1)
		}

		lock, err := state.AcquireLock(cfg.LockFile())
		if err != nil {
			logger.Error("cannot reset while a tick is running", logger.ErrorField(err))
			os.Exit(1)
		}
		defer lock.Release()

		store := state.NewStore(cfg.StateFile, cfg.Step)
		st, err := store.Reset(fingerprint)
		if err != nil {
			logger.Error("reset failed", logger.ErrorField(err))
			os.Exit(1)
		}
		fmt.Printf("Playback state reset: %s starts over at frame %d, step %d\n",
			source, st.Position, st.Step)
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
