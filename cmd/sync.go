package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vsmp/logger"
	"vsmp/storage"

	"github.com/spf13/cobra"
)

var syncPrefix string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download new movies from the configured object store",
	Long: `Pulls .mp4 objects from the MinIO/S3 bucket into the movie directory.
Files already present with matching size are skipped. Run it from its own
schedule; it never runs as part of a tick.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup()

		prefix := cfg.MinioPrefix
		if syncPrefix != "" {
			prefix = syncPrefix
		}

		store, err := storage.NewMovieStore(
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioUseSSL,
		)
		if err != nil {
			logger.Error("object store unavailable", logger.ErrorField(err))
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := store.SyncMovies(ctx, prefix, cfg.MovieDir)
		if err != nil {
			logger.Error("sync failed", logger.Int("downloaded", n), logger.ErrorField(err))
			os.Exit(1)
		}
		fmt.Printf("Synced %d new movie(s) into %s\n", n, cfg.MovieDir)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncPrefix, "prefix", "", "bucket prefix to sync (defaults to MINIO_PREFIX)")
	rootCmd.AddCommand(syncCmd)
}
