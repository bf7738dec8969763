//go:generate go run github.com/golang/mock/mockgen -source=${GOFILE} -destination=zz_generated_mocks_test.go -package=session Orchestrator,Display

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ccfrost/poseup/internal/upload"
)

var (
	// ErrBusy is returned by Submit while a batch is already in flight.
	ErrBusy = errors.New("a batch is already in flight")
	// ErrNoSelection is returned by Submit when no files are selected.
	ErrNoSelection = errors.New("no files selected")
)

// Orchestrator runs one upload batch.
type Orchestrator interface {
	UploadAll(ctx context.Context, files []upload.PendingFile) ([]upload.UploadResult, error)
}

// Display consumes the ordered results of a successful batch.
type Display interface {
	Show(results []upload.UploadResult) error
}

// Snapshot is a copy of the controller state for display.
type Snapshot struct {
	Busy     bool
	Selected int
	Results  []upload.UploadResult
	Err      error
}

// Controller holds the current selection, the busy flag and the published results.
// At most one batch is in flight at a time.
type Controller struct {
	orchestrator Orchestrator
	display      Display
	onBusyChange func(busy bool)
	logger       *slog.Logger

	mu        sync.Mutex
	selection []upload.PendingFile
	selGen    int // bumped by every Select
	busy      bool
	results   []upload.UploadResult
	lastErr   error
}

// Option configures a Controller.
type Option func(*Controller)

// WithBusyObserver registers fn to be called on every busy flag transition.
func WithBusyObserver(fn func(busy bool)) Option {
	return func(c *Controller) {
		c.onBusyChange = fn
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a Controller. display may be nil.
func NewController(orchestrator Orchestrator, display Display, opts ...Option) *Controller {
	c := &Controller{
		orchestrator: orchestrator,
		display:      display,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select replaces the current selection wholesale.
// A selection containing an unnamed file is malformed and leaves the selection empty.
func (c *Controller) Select(files []upload.PendingFile) {
	var selection []upload.PendingFile
	for _, f := range files {
		if f.Name == "" {
			c.logger.Debug("Ignoring malformed selection", slog.Int("count", len(files)))
			selection = nil
			break
		}
		selection = append(selection, f)
	}

	c.mu.Lock()
	c.selection = selection
	c.selGen++
	c.mu.Unlock()
}

// Submit uploads the current selection as one batch and waits for it.
// It returns ErrBusy or ErrNoSelection without doing anything when a batch is already
// in flight or nothing is selected. On success the results replace the previously
// published ones. On failure the previous results are kept and the error is recorded.
// A display error does not undo a successful batch: the new results stay published,
// the superseded ones are released and the error is recorded and returned.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if len(c.selection) == 0 {
		c.mu.Unlock()
		return ErrNoSelection
	}
	files := slices.Clone(c.selection)
	gen := c.selGen
	c.busy = true
	c.mu.Unlock()

	c.notifyBusy(true)
	defer c.clearBusy()

	c.logger.Info("Submitting batch", slog.Int("count", len(files)))
	results, err := c.orchestrator.UploadAll(ctx, files)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Error("Batch failed, keeping previous results",
			slog.String("error", err.Error()))
		return err
	}

	c.mu.Lock()
	superseded := c.results
	c.results = results
	if c.selGen == gen {
		// Keep a selection made while the batch was in flight.
		c.selection = nil
	}
	c.lastErr = nil
	c.mu.Unlock()

	releaseResults(c.logger, superseded)

	if c.display != nil {
		if err := c.display.Show(slices.Clone(results)); err != nil {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			return fmt.Errorf("failed to display results: %w", err)
		}
	}

	c.logger.Info("Batch complete", slog.Int("count", len(results)))
	return nil
}

// Busy reports whether a batch is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Results returns a copy of the published results.
func (c *Controller) Results() []upload.UploadResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.results)
}

// Err returns the error of the last submission, or nil if it succeeded.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Busy:     c.busy,
		Selected: len(c.selection),
		Results:  slices.Clone(c.results),
		Err:      c.lastErr,
	}
}

// Close releases the image resources of the published results.
func (c *Controller) Close() {
	c.mu.Lock()
	results := c.results
	c.results = nil
	c.mu.Unlock()

	releaseResults(c.logger, results)
}

func (c *Controller) clearBusy() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.notifyBusy(false)
}

func (c *Controller) notifyBusy(busy bool) {
	if c.onBusyChange != nil {
		c.onBusyChange(busy)
	}
}

func releaseResults(logger *slog.Logger, results []upload.UploadResult) {
	for _, res := range results {
		if res.Image == nil {
			continue
		}
		if err := res.Image.Release(); err != nil {
			logger.Warn("Failed to release image resource",
				slog.String("file", res.Filename),
				slog.String("error", err.Error()))
		}
	}
}
