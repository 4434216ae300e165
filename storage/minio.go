package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vsmp/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MovieStore pulls source videos out of an S3-compatible bucket into the
// local movie directory. Acquisition is a collaborator of the engine, not
// part of the tick: it runs from its own command, never during a render.
type MovieStore struct {
	client *minio.Client
	bucket string
}

// NewMovieStore connects to the object store and verifies the bucket
// exists.
func NewMovieStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MovieStore, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is not configured")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	return &MovieStore{client: client, bucket: bucket}, nil
}

// SyncMovies downloads every .mp4 under prefix that is missing locally or
// differs in size. Returns the number of files fetched. Downloads go
// through the client's part-file-then-rename path, so an interrupted sync
// never leaves a truncated movie where the extractor would find it.
func (s *MovieStore) SyncMovies(ctx context.Context, prefix, destDir string) (int, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("creating movie dir %s: %w", destDir, err)
	}

	downloaded := 0
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return downloaded, fmt.Errorf("listing %s/%s: %w", s.bucket, prefix, obj.Err)
		}
		if !strings.EqualFold(filepath.Ext(obj.Key), ".mp4") {
			logger.Debug("skipping non-mp4 object", logger.String("key", obj.Key))
			continue
		}

		local := filepath.Join(destDir, filepath.Base(obj.Key))
		if info, err := os.Stat(local); err == nil && info.Size() == obj.Size {
			logger.Debug("already have object", logger.String("key", obj.Key))
			continue
		}

		logger.Info("downloading movie",
			logger.String("key", obj.Key),
			logger.Int64("bytes", obj.Size))
		if err := s.client.FGetObject(ctx, s.bucket, obj.Key, local, minio.GetObjectOptions{}); err != nil {
			return downloaded, fmt.Errorf("downloading %s: %w", obj.Key, err)
		}
		downloaded++
	}
	return downloaded, nil
}
