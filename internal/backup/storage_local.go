package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalUploader copies artifacts into a directory tree
type LocalUploader struct {
	basePath    string
	prefix      string
	permissions os.FileMode
}

// NewLocalUploader creates the directory uploader, creating basePath if needed
func NewLocalUploader(config *LocalConfig, prefix string) (*LocalUploader, error) {
	if config == nil || config.BasePath == "" {
		return nil, fmt.Errorf("local storage base path is required")
	}
	perm := config.Permissions
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create offsite directory: %w", err)
	}
	return &LocalUploader{basePath: config.BasePath, prefix: prefix, permissions: perm}, nil
}

func (u *LocalUploader) Name() string {
	return "local"
}

// Upload copies through a temp file in the destination directory and renames it into place
func (u *LocalUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	dest := filepath.Join(u.basePath, filepath.FromSlash(objectKey(u.prefix, key)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: src}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, u.permissions); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// contextReader stops a copy once ctx ends
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
