package gallery

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ccfrost/poseup/internal/upload"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// IndexFile is the name of the rendered contact sheet.
const IndexFile = "index.html"

// DefaultThumbWidth is the width in pixels of generated thumbnails.
const DefaultThumbWidth = 200

// ManifestFile records which tile dir the current index.html refers to.
const ManifestFile = ".poseup-gallery"

const tileDirPrefix = "tiles-"

// tileDirPattern matches the tile dirs created by Show.
var tileDirPattern = regexp.MustCompile(`^tiles-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var indexTemplate = template.Must(template.New(IndexFile).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>poseup results</title>
<style>
body { font-family: sans-serif; }
.tile { display: inline-block; margin: 8px; vertical-align: top; }
.tile img { display: block; max-width: {{.ThumbWidth}}px; }
</style>
</head>
<body>
{{range .Tiles}}<div class="tile">
<h3>{{.Filename}}</h3>
<a href="{{.Full}}"><img src="{{.Thumb}}" alt="{{.Filename}}"></a>
</div>
{{end}}</body>
</html>
`))

type tile struct {
	Filename string
	Full     string
	Thumb    string
}

// Gallery writes the results of a batch into a directory as image tiles plus an index page.
type Gallery struct {
	fs         afero.Fs
	dir        string
	thumbWidth int
	logger     *slog.Logger
}

// Option configures a Gallery.
type Option func(*Gallery)

// WithThumbWidth sets the thumbnail width in pixels.
func WithThumbWidth(width int) Option {
	return func(g *Gallery) {
		g.thumbWidth = width
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gallery) {
		g.logger = logger
	}
}

// New creates a Gallery that writes into dir on fs.
func New(fs afero.Fs, dir string, opts ...Option) *Gallery {
	g := &Gallery{
		fs:         fs,
		dir:        dir,
		thumbWidth: DefaultThumbWidth,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IndexPath returns the path of the rendered index page.
func (g *Gallery) IndexPath() string {
	return filepath.Join(g.dir, IndexFile)
}

// Show replaces the gallery contents with one tile per result, in order.
// The new tiles and index are written before the previous tiles are removed, so a
// failed Show leaves the previous gallery intact.
func (g *Gallery) Show(results []upload.UploadResult) error {
	if err := g.fs.MkdirAll(g.dir, 0755); err != nil {
		return fmt.Errorf("failed to create gallery dir %s: %w", g.dir, err)
	}
	previous, err := g.readManifest()
	if err != nil {
		return err
	}

	tileDir := tileDirPrefix + uuid.NewString()
	if err := g.fs.MkdirAll(filepath.Join(g.dir, tileDir), 0755); err != nil {
		return fmt.Errorf("failed to create tile dir %s: %w", tileDir, err)
	}
	if err := g.publish(tileDir, results); err != nil {
		if rmErr := g.fs.RemoveAll(filepath.Join(g.dir, tileDir)); rmErr != nil {
			g.logger.Warn("Failed to remove unpublished tiles",
				slog.String("dir", tileDir),
				slog.String("error", rmErr.Error()))
		}
		return err
	}

	if previous != "" && previous != tileDir {
		if err := g.fs.RemoveAll(filepath.Join(g.dir, previous)); err != nil {
			g.logger.Warn("Failed to remove previous tiles",
				slog.String("dir", previous),
				slog.String("error", err.Error()))
		}
	}

	g.logger.Debug("Gallery updated",
		slog.String("dir", g.dir),
		slog.Int("tiles", len(results)))
	return nil
}

// publish writes the tiles into tileDir, then the index, then the manifest.
func (g *Gallery) publish(tileDir string, results []upload.UploadResult) error {
	tiles := make([]tile, 0, len(results))
	for i, res := range results {
		t, err := g.writeTile(tileDir, i, res)
		if err != nil {
			return err
		}
		tiles = append(tiles, t)
	}

	var buf bytes.Buffer
	data := struct {
		ThumbWidth int
		Tiles      []tile
	}{g.thumbWidth, tiles}
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", IndexFile, err)
	}
	if err := writeFileAtomic(g.fs, g.IndexPath(), buf.Bytes()); err != nil {
		return err
	}
	return writeFileAtomic(g.fs, filepath.Join(g.dir, ManifestFile), []byte(tileDir+"\n"))
}

func (g *Gallery) writeTile(tileDir string, index int, res upload.UploadResult) (tile, error) {
	if res.Image == nil {
		return tile{}, fmt.Errorf("result %d (%s) has no image", index, res.Filename)
	}
	data, err := res.Image.Bytes()
	if err != nil {
		return tile{}, fmt.Errorf("failed to read image for %s: %w", res.Filename, err)
	}

	stem := tileStem(index, res.Filename)
	fullName := path.Join(tileDir, stem+filepath.Ext(res.Image.Path))
	if err := writeFileAtomic(g.fs, filepath.Join(g.dir, filepath.FromSlash(fullName)), data); err != nil {
		return tile{}, err
	}

	t := tile{Filename: res.Filename, Full: fullName, Thumb: fullName}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		g.logger.Warn("Cannot decode processed image, showing it without a thumbnail",
			slog.String("file", res.Filename),
			slog.String("content_type", res.ContentType),
			slog.String("error", err.Error()))
		return t, nil
	}

	var thumb bytes.Buffer
	if err := imaging.Encode(&thumb, imaging.Resize(img, g.thumbWidth, 0, imaging.Lanczos), imaging.PNG); err != nil {
		return tile{}, fmt.Errorf("failed to encode thumbnail for %s: %w", res.Filename, err)
	}
	t.Thumb = path.Join(tileDir, stem+".thumb.png")
	if err := writeFileAtomic(g.fs, filepath.Join(g.dir, filepath.FromSlash(t.Thumb)), thumb.Bytes()); err != nil {
		return tile{}, err
	}
	return t, nil
}

// readManifest returns the tile dir recorded by the previous Show, or "" if there is none.
// A manifest naming anything other than a tile dir is ignored.
func (g *Gallery) readManifest() (string, error) {
	manifestPath := filepath.Join(g.dir, ManifestFile)
	data, err := afero.ReadFile(g.fs, manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", manifestPath, err)
	}
	name := strings.TrimSpace(string(data))
	if !tileDirPattern.MatchString(name) {
		g.logger.Warn("Ignoring unexpected gallery manifest",
			slog.String("path", manifestPath))
		return "", nil
	}
	return name, nil
}

// tileStem returns "<index>-<basename>" with the file extension removed.
func tileStem(index int, filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "image"
	}
	return fmt.Sprintf("%03d-%s", index, base)
}

// writeFileAtomic writes data to a temporary file and then renames it to dst.
// The temporary file is removed if any step fails.
func writeFileAtomic(afs afero.Fs, dst string, data []byte) (err error) {
	tmp := dst + ".tmp"
	f, err := afs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = afs.Remove(tmp)
		}
	}()

	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := afs.Rename(tmp, dst); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}
