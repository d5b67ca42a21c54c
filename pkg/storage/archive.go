package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/logger"
)

// Archiver keeps a provenance copy of every artifact a run has committed.
type Archiver interface {
	Archive(ctx context.Context, source, localPath string) error
}

// NoopArchiver is used when no object store is configured.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, string, string) error { return nil }

type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver returns a MinIO archiver, or a no-op one when the endpoint is unset.
func NewArchiver(ctx context.Context, cfg *config.Config) (Archiver, error) {
	if cfg.MinioEndpoint == "" {
		return NoopArchiver{}, nil
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	a := &MinioArchiver{client: client, bucket: cfg.MinioBucket}
	if err := a.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"endpoint": cfg.MinioEndpoint,
		"bucket":   cfg.MinioBucket,
	}).Info("Artifact archive enabled")
	return a, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (a *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (a *MinioArchiver) Archive(ctx context.Context, source, localPath string) error {
	object := ObjectName(source, localPath)
	_, err := a.client.FPutObject(ctx, a.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
		UserMetadata: map[string]string{
			"source": source,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", object, err)
	}
	return nil
}

// ObjectName is <SOURCE>/<file name>.
func ObjectName(source, localPath string) string {
	return path.Join(source, filepath.Base(localPath))
}

func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
