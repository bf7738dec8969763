package upload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccfrost/poseup/internal/resource"
)

// DefaultContentType is used when a successful response carries no Content-Type.
const DefaultContentType = "image/jpeg"

// PendingFile is a user-selected local file waiting to be uploaded.
type PendingFile struct {
	Name    string
	Content []byte
}

// UploadResult is the processed image returned for one PendingFile.
// Image must be released by whoever ends up owning the result.
type UploadResult struct {
	Filename    string
	Image       *resource.Image
	ContentType string
}

// PendingFilesFromPaths reads each path into a PendingFile, named by its base name.
// No validation of type or size is done.
func PendingFilesFromPaths(paths []string) ([]PendingFile, error) {
	files := make([]PendingFile, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, PendingFile{
			Name:    filepath.Base(path),
			Content: content,
		})
	}
	return files, nil
}
