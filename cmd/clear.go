package cmd

import (
	"fmt"
	"os"

	"vsmp/core/epd"
	"vsmp/logger"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe the panel to white and put it to sleep",
	Long: `Maintenance command for storing the panel or swapping movies: clears any
image (and accumulated ghosting) and powers the panel down. Does not touch
the playback state.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup()

		adapter := epd.NewAdapter(newPanel(cfg), cfg.RenderTimeout)
		if err := adapter.Init(); err != nil {
			logger.Error("panel init failed", logger.ErrorField(err))
			os.Exit(1)
		}
		if err := adapter.Clear(); err != nil {
			logger.Error("panel clear failed", logger.ErrorField(err))
			os.Exit(1)
		}
		if err := adapter.Sleep(); err != nil {
			logger.Warn("panel sleep failed", logger.ErrorField(err))
		}
		fmt.Println("Panel cleared and asleep.")
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
