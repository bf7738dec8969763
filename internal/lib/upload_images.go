package lib

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ccfrost/poseup/internal/config"
	"github.com/ccfrost/poseup/internal/gallery"
	"github.com/ccfrost/poseup/internal/resource"
	"github.com/ccfrost/poseup/internal/session"
	"github.com/ccfrost/poseup/internal/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

// UploadOptions holds the per-run settings of UploadImages.
type UploadOptions struct {
	// MetricsFile, if set, receives the run's metrics in Prometheus text format.
	MetricsFile string
	// Out receives one summary line per result. nil discards the summary.
	Out io.Writer
	// OnBusyChange is called when the batch starts and ends, e.g. BusyIndicator.SetBusy.
	OnBusyChange func(busy bool)
	// Fs is the filesystem for processed images and the gallery. nil means the OS filesystem.
	Fs afero.Fs
}

// UploadImages uploads the images at paths to the processing service as one batch and
// writes the processed images to the gallery in cfg.OutputDir.
// The batch is all-or-nothing: on failure nothing is written to the gallery.
func UploadImages(ctx context.Context, cfg config.PoseupConfig, paths []string, opts UploadOptions) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	files, err := upload.PendingFilesFromPaths(paths)
	if err != nil {
		return err
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	reg := prometheus.NewRegistry()
	store := resource.NewStore(fs, cfg.WorkDir)
	orchestrator := upload.NewOrchestrator(cfg.Endpoint(), store,
		upload.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		upload.WithLimiter(cfg.Limiter()),
		upload.WithMaxConcurrent(cfg.MaxConcurrent),
		upload.WithMetrics(upload.NewMetrics(reg)),
		upload.WithLogger(logger),
	)
	display := gallery.New(fs, cfg.OutputDir, gallery.WithLogger(logger))

	controllerOpts := []session.Option{session.WithLogger(logger)}
	if opts.OnBusyChange != nil {
		controllerOpts = append(controllerOpts, session.WithBusyObserver(opts.OnBusyChange))
	}
	controller := session.NewController(orchestrator, display, controllerOpts...)
	defer controller.Close()

	controller.Select(files)
	submitErr := controller.Submit(ctx)

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			logger.Warn("Failed to write metrics file",
				slog.String("path", opts.MetricsFile),
				slog.String("error", err.Error()))
		}
	}

	if submitErr != nil {
		return fmt.Errorf("failed to upload %d images: %w", len(files), submitErr)
	}

	results := controller.Results()
	for i, res := range results {
		fmt.Fprintf(out, "%d\t%s\t%s\t%d bytes\n", i+1, res.Filename, res.ContentType, res.Image.Size)
	}
	fmt.Fprintf(out, "Processed %d images, gallery written to %s\n", len(results), display.IndexPath())
	return nil
}
