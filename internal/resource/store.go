package resource

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrReleased is returned when reading an image whose backing file was already released.
var ErrReleased = errors.New("image resource released")

// Store hands out locally addressable image resources backed by files in dir.
// Every acquired Image must be released; nothing is reclaimed implicitly.
type Store struct {
	fs  afero.Fs
	dir string

	mu   sync.Mutex
	live map[string]*Image
}

// Image is a handle to processed image bytes held by a Store.
type Image struct {
	ID          string
	Path        string
	ContentType string
	Size        int64

	store    *Store
	released bool
}

// NewStore creates a store that writes resources under dir on fs.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:   fs,
		dir:  dir,
		live: make(map[string]*Image),
	}
}

// Dir returns the directory resources are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Acquire copies data into a new resource. The caller owns the returned Image.
func (s *Store) Acquire(data []byte, contentType string) (*Image, error) {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create resource dir %s: %w", s.dir, err)
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+extensionFor(contentType))
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write resource %s: %w", path, err)
	}

	img := &Image{
		ID:          id,
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		store:       s,
	}

	s.mu.Lock()
	s.live[id] = img
	s.mu.Unlock()
	return img, nil
}

// Live returns the number of acquired resources that have not been released.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// ReleaseAll releases every live resource. It returns the first error seen.
func (s *Store) ReleaseAll() error {
	s.mu.Lock()
	imgs := make([]*Image, 0, len(s.live))
	for _, img := range s.live {
		imgs = append(imgs, img)
	}
	s.mu.Unlock()

	var firstErr error
	for _, img := range imgs {
		if err := img.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// URL returns a file URL that addresses the resource.
func (img *Image) URL() string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(img.Path)}
	return u.String()
}

// Open opens the backing file for reading.
func (img *Image) Open() (io.ReadCloser, error) {
	if img.isReleased() {
		return nil, ErrReleased
	}
	return img.store.fs.Open(img.Path)
}

// Bytes reads the full content of the resource.
func (img *Image) Bytes() ([]byte, error) {
	if img.isReleased() {
		return nil, ErrReleased
	}
	return afero.ReadFile(img.store.fs, img.Path)
}

// Release removes the backing file. Releasing twice is a no-op.
func (img *Image) Release() error {
	s := img.store
	s.mu.Lock()
	if img.released {
		s.mu.Unlock()
		return nil
	}
	img.released = true
	delete(s.live, img.ID)
	s.mu.Unlock()

	if err := s.fs.Remove(img.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release resource %s: %w", img.Path, err)
	}
	return nil
}

func (img *Image) isReleased() bool {
	img.store.mu.Lock()
	defer img.store.mu.Unlock()
	return img.released
}

// extensionFor maps a content type to a file extension, ignoring parameters.
func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ".bin"
	}
}
