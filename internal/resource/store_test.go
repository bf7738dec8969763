package resource

import (
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/work/images")

	img, err := store.Acquire([]byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Live())
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, int64(len("png-bytes")), img.Size)
	assert.True(t, strings.HasSuffix(img.Path, ".png"), "path %s should end in .png", img.Path)
	assert.True(t, strings.HasPrefix(img.URL(), "file:///work/images/"), "unexpected url %s", img.URL())

	data, err := img.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	rc, err := img.Open()
	require.NoError(t, err)
	streamed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "png-bytes", string(streamed))

	require.NoError(t, img.Release())
	assert.Equal(t, 0, store.Live())

	exists, err := afero.Exists(fs, img.Path)
	require.NoError(t, err)
	assert.False(t, exists, "backing file should be removed on release")

	_, err = img.Bytes()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = img.Open()
	assert.ErrorIs(t, err, ErrReleased)

	// Second release is a no-op.
	assert.NoError(t, img.Release())
}

func TestAcquire_DistinctIDs(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/work")

	a, err := store.Acquire([]byte("a"), "image/jpeg")
	require.NoError(t, err)
	b, err := store.Acquire([]byte("b"), "image/jpeg")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Path, b.Path)
	assert.Equal(t, 2, store.Live())
}

func TestReleaseAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/work")

	var paths []string
	for i := 0; i < 3; i++ {
		img, err := store.Acquire([]byte{byte(i)}, "image/jpeg")
		require.NoError(t, err)
		paths = append(paths, img.Path)
	}

	require.NoError(t, store.ReleaseAll())
	assert.Equal(t, 0, store.Live())
	for _, p := range paths {
		exists, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.False(t, exists, "%s should be removed", p)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png", ".png"},
		{"IMAGE/PNG", ".png"},
		{"image/png; charset=binary", ".png"},
		{"image/webp", ".webp"},
		{"application/octet-stream", ".bin"},
		{"", ".bin"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, extensionFor(tt.contentType))
		})
	}
}
