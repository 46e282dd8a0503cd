package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSUploader copies artifacts to a Google Cloud Storage bucket
type GCSUploader struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSUploader creates the GCS uploader. Without a credentials file the
// application default credentials are used.
func NewGCSUploader(ctx context.Context, config *GCSConfig, prefix string) (*GCSUploader, error) {
	if config == nil {
		return nil, fmt.Errorf("GCS storage configuration is required")
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSUploader{client: client, bucketName: config.Bucket, prefix: prefix}, nil
}

func (u *GCSUploader) Name() string {
	return "gcs"
}

func (u *GCSUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	objectName := objectKey(u.prefix, key)
	w := u.client.Bucket(u.bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = contentTypeFor(localPath)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload artifact to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucketName, objectName), nil
}

// Close releases the client
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

func contentTypeFor(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return "application/zip"
	case strings.HasSuffix(lower, ".tar.gz"):
		return "application/gzip"
	case strings.HasSuffix(lower, ".tar.zst"):
		return "application/zstd"
	case strings.HasSuffix(lower, ".sql"):
		return "application/sql"
	}
	return "application/octet-stream"
}
