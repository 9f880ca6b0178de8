package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
)

func TestLocalUpload(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root, "https://cdn.example/")
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), "game-images/1700000000000_cover art.png", []byte("png"), "image/png")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/uploads/game-images/1700000000000_cover%20art.png", url)

	data, err := os.ReadFile(filepath.Join(root, "game-images", "1700000000000_cover art.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestLocalUpload_RejectsEscapes(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	for _, p := range []string{"", "/etc/passwd", "../secret", "a/../../b", `a\b`, "."} {
		_, err := store.Upload(context.Background(), p, []byte("x"), "text/plain")
		assert.True(t, errors.Is(err, apperror.ErrValidation), "path %q: got %v", p, err)
	}
}

func TestLocalUpload_CancelledContext(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Upload(ctx, "a.txt", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, context.Canceled)
}
