package cmd

import (
	"fmt"
	"os"
	"time"

	"vsmp/core/state"
	"vsmp/core/video"
	"vsmp/logger"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the persisted playback position",
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

		store := state.NewStore(cfg.StateFile, cfg.Step)
		st, err := store.Load(fingerprint)
		if err != nil {
			logger.Error("cannot load state", logger.ErrorField(err))
			os.Exit(1)
		}

		extractor := video.NewExtractor(cfg.FFmpegPath, cfg.FastSeek)
		total, fps, err := extractor.Probe(source)
		if err != nil {
			logger.Error("cannot probe source", logger.ErrorField(err))
			os.Exit(1)
		}

		fmt.Printf("Source:     %s\n", source)
		fmt.Printf("Frame:      %d / %d (%.2f%%)\n", st.Position, total,
			percent(st.Position, total))
		fmt.Printf("Step:       %d (policy: %s)\n", st.Step, cfg.EndPolicy)
		fmt.Printf("Frame rate: %.3f fps\n", fps)
		if !st.UpdatedAt.IsZero() {
			fmt.Printf("Updated:    %s\n", st.UpdatedAt.Format(time.RFC3339))
		}

		// How long until the movie finishes at one tick per interval.
		if ticksLeft := ticksRemaining(st.Position, st.Step, total); ticksLeft > 0 {
			eta := time.Duration(ticksLeft) * cfg.PlayInterval
			fmt.Printf("Remaining:  %d ticks (about %s at one tick per %s)\n",
				ticksLeft, eta.Round(time.Minute), cfg.PlayInterval)
		}
	},
}

// ticksRemaining counts ticks until the cursor reaches the end it is heading
// for: the last frame going forward, frame zero going backward.
func ticksRemaining(position, step, total int64) int64 {
	if step == 0 {
		return 0
	}
	if step < 0 {
		step = -step
		return (position + step - 1) / step
	}
	return (total - position + step - 1) / step
}

func percent(position, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(position) / float64(total) * 100
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
