// Package archive copies expiring files to S3-compatible object storage
// before the expiration worker deletes them.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"folio/internal/config"
)

// MinioArchiver implements expire.Archiver against a MinIO/S3 bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	prefix string
}

// New connects to the configured endpoint and verifies the bucket exists.
func New(ctx context.Context, cfg config.ArchiveConfig) (*MinioArchiver, error) {
	endpoint, secure, err := normalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive bucket check: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("archive bucket does not exist: %s", cfg.Bucket)
	}

	return &MinioArchiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive streams the file to the bucket under prefix/name. The object key
// mirrors the file's relative path, so the archive keeps the uploads layout.
func (a *MinioArchiver) Archive(ctx context.Context, name string, r io.Reader, size int64) error {
	key := path.Join(a.prefix, name)
	if _, err := a.client.PutObject(ctx, a.bucket, key, r, size, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// normalizeEndpoint accepts either "minio:9000" or a URL form
// "https://minio:9000" and returns the host plus whether to use TLS.
func normalizeEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty archive endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid archive endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("archive endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// No scheme: treat as host:port, insecure by default for local MinIO.
	return raw, false, nil
}
