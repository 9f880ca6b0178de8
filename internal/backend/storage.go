package backend

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// BlobStore uploads into one public bucket.
type BlobStore struct {
	c      *Client
	bucket string
}

var _ repository.BlobStore = (*BlobStore)(nil)

func NewBlobStore(c *Client, bucket string) *BlobStore {
	return &BlobStore{c: c, bucket: bucket}
}

// Upload refuses to overwrite an existing object.
func (b *BlobStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	path = strings.TrimLeft(path, "/")
	if path == "" || strings.Contains(path, "..") {
		return "", apperror.ValidationFailed("path", "invalid upload path")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectPath := escapeObjectPath(b.bucket + "/" + path)
	resp, err := b.c.do(ctx, http.MethodPost, "/storage/v1/object/"+objectPath,
		bytes.NewReader(data), contentType, http.Header{"X-Upsert": {"false"}})
	if err != nil {
		return "", err
	}

	switch resp.status {
	case http.StatusOK, http.StatusCreated:
		return b.c.baseURL + "/storage/v1/object/public/" + objectPath, nil
	case http.StatusConflict:
		return "", apperror.Conflict(apperror.CodeInvalidInput, "a file with this name already exists")
	default:
		return "", unexpected("upload object", resp)
	}
}

func escapeObjectPath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
