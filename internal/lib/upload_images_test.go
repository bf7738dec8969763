package lib

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ccfrost/poseup/internal/config"
	"github.com/ccfrost/poseup/internal/gallery"
	"github.com/ccfrost/poseup/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig returns a config pointing at origin with temp work and output dirs.
func newTestConfig(t *testing.T, origin string) config.PoseupConfig {
	t.Helper()
	return config.PoseupConfig{
		ServiceOrigin: origin,
		UploadPath:    config.DefaultUploadPath,
		OutputDir:     filepath.Join(t.TempDir(), "gallery"),
		WorkDir:       filepath.Join(t.TempDir(), "work"),
		Burst:         config.DefaultBurst,
	}
}

func writeImages(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("raw "+name), 0644))
		paths = append(paths, path)
	}
	return paths
}

// poseServer answers every upload with a small PNG, or 500 for files named in failing.
func poseServer(t *testing.T, failing ...string) *httptest.Server {
	t.Helper()
	var processed bytes.Buffer
	require.NoError(t, png.Encode(&processed, image.NewRGBA(image.Rect(0, 0, 300, 300))))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != config.DefaultUploadPath {
			http.NotFound(w, r)
			return
		}
		f, header, err := r.FormFile(upload.FormField)
		if err != nil {
			http.Error(w, `{"error": "missing file"}`, http.StatusBadRequest)
			return
		}
		_, _ = io.Copy(io.Discard, f)
		f.Close()
		for _, name := range failing {
			if header.Filename == name {
				http.Error(w, `{"error": "no pose detected"}`, http.StatusInternalServerError)
				return
			}
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(processed.Bytes())
	}))
}

func TestUploadImages(t *testing.T) {
	server := poseServer(t)
	defer server.Close()

	cfg := newTestConfig(t, server.URL)
	paths := writeImages(t, "front.jpg", "side.jpg", "back.jpg")
	metricsFile := filepath.Join(t.TempDir(), "poseup.prom")

	var mu sync.Mutex
	var transitions []bool
	var out bytes.Buffer
	err := UploadImages(context.Background(), cfg, paths, UploadOptions{
		MetricsFile: metricsFile,
		Out:         &out,
		OnBusyChange: func(busy bool) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, busy)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false}, transitions)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "1\tfront.jpg\timage/png"))
	assert.True(t, strings.HasPrefix(lines[1], "2\tside.jpg\timage/png"))
	assert.True(t, strings.HasPrefix(lines[2], "3\tback.jpg\timage/png"))
	assert.Contains(t, lines[3], "Processed 3 images")

	assert.FileExists(t, filepath.Join(cfg.OutputDir, gallery.IndexFile))
	manifest, err := os.ReadFile(filepath.Join(cfg.OutputDir, gallery.ManifestFile))
	require.NoError(t, err)
	tileDir := filepath.Join(cfg.OutputDir, strings.TrimSpace(string(manifest)))
	for _, name := range []string{"000-front.png", "001-side.png", "002-back.png", "000-front.thumb.png"} {
		assert.FileExists(t, filepath.Join(tileDir, name))
	}

	// Processed images are released once the run is over.
	entries, err := os.ReadDir(cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `poseup_uploads_total{status="success"} 3`)
	assert.Contains(t, string(metrics), `poseup_batches_total{result="success"} 1`)
}

func TestUploadImages_BatchFailure(t *testing.T) {
	server := poseServer(t, "side.jpg")
	defer server.Close()

	cfg := newTestConfig(t, server.URL)
	paths := writeImages(t, "front.jpg", "side.jpg")

	var out bytes.Buffer
	err := UploadImages(context.Background(), cfg, paths, UploadOptions{Out: &out})
	require.Error(t, err)
	assert.ErrorIs(t, err, upload.ErrUploadBatch)
	assert.Contains(t, err.Error(), "side.jpg")

	assert.Empty(t, out.String())
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, gallery.IndexFile), "nothing is published on failure")
}

func TestUploadImages_MissingFile(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")

	err := UploadImages(context.Background(), cfg, []string{filepath.Join(t.TempDir(), "missing.jpg")}, UploadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.jpg")
}

func TestUploadImages_InvalidConfig(t *testing.T) {
	cfg := newTestConfig(t, "not a url")

	err := UploadImages(context.Background(), cfg, writeImages(t, "a.jpg"), UploadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
