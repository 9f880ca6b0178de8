// Package storage is the filesystem BlobStore used in local mode. Files are
// written under a root directory and served back by the HTTP server under
// /uploads/.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// URLPrefix is where the server mounts the upload directory.
const URLPrefix = "/uploads/"

type Local struct {
	root    string
	baseURL string
}

var _ repository.BlobStore = (*Local)(nil)

// NewLocal creates root if needed. baseURL ("https://echoshock.example") is
// prepended to returned URLs; empty yields site-relative URLs.
func NewLocal(root, baseURL string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", root, err)
	}
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) Root() string {
	return l.root
}

// Upload writes data to root/p atomically (temp file + rename).
func (l *Local) Upload(ctx context.Context, p string, data []byte, _ string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(l.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("storage: creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: writing %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: closing %s: %w", clean, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("storage: renaming into place: %w", err)
	}

	return l.baseURL + URLPrefix + escapePath(clean), nil
}

// cleanPath rejects absolute paths and anything escaping the root.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", apperror.ValidationFailed("path", "invalid upload path")
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", apperror.ValidationFailed("path", "invalid upload path")
	}
	return clean, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
