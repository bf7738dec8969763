package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ccfrost/poseup/internal/resource"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FormField is the multipart field name the processing service reads the image from.
const FormField = "file"

// maxErrorSnippet bounds how much of a failed response body is logged.
const maxErrorSnippet = 512

// ResourceStore turns processed bytes into an image resource.
type ResourceStore interface {
	Acquire(data []byte, contentType string) (*resource.Image, error)
}

// Orchestrator uploads a batch of files to the processing endpoint concurrently.
type Orchestrator struct {
	endpoint      string
	store         ResourceStore
	client        *http.Client
	limiter       *rate.Limiter
	maxConcurrent int
	metrics       *Metrics
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient sets the client used for uploads. The default is http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) {
		o.client = client
	}
}

// WithLimiter throttles how fast uploads are launched. nil means unlimited.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(o *Orchestrator) {
		o.limiter = limiter
	}
}

// WithMaxConcurrent caps the number of uploads in flight. 0 means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		o.maxConcurrent = n
	}
}

// WithMetrics records upload outcomes.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an Orchestrator that POSTs to endpoint and stores responses in store.
func NewOrchestrator(endpoint string, store ResourceStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		endpoint: endpoint,
		store:    store,
		client:   http.DefaultClient,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Endpoint returns the URL uploads are sent to.
func (o *Orchestrator) Endpoint() string {
	return o.endpoint
}

// UploadAll uploads every file concurrently and returns the results in input order.
// The batch is all-or-nothing: the first per-file failure cancels the remaining uploads,
// releases any resources already acquired, and is returned as a *BatchError.
func (o *Orchestrator) UploadAll(ctx context.Context, files []PendingFile) ([]UploadResult, error) {
	if len(files) == 0 {
		return []UploadResult{}, nil
	}

	o.logger.Debug("Starting upload batch",
		slog.Int("count", len(files)),
		slog.String("endpoint", o.endpoint))

	// Each goroutine writes only its own index.
	results := make([]UploadResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}

	var launchErr error
	for i, file := range files {
		if o.limiter != nil {
			if err := o.limiter.Wait(gctx); err != nil {
				launchErr = &BatchError{Index: i, Filename: file.Name, Err: fmt.Errorf("rate limiter error: %w", err)}
				break
			}
		}
		i, file := i, file
		g.Go(func() error {
			res, err := o.uploadFile(gctx, file)
			if err != nil {
				return &BatchError{Index: i, Filename: file.Name, Err: err}
			}
			results[i] = res
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = launchErr
	}
	o.metrics.observeBatch(err)
	if err != nil {
		for _, res := range results {
			if res.Image == nil {
				continue
			}
			if relErr := res.Image.Release(); relErr != nil {
				o.logger.Warn("Failed to release resource of aborted batch",
					slog.String("file", res.Filename),
					slog.String("error", relErr.Error()))
			}
		}
		o.logger.Debug("Upload batch failed", slog.String("error", err.Error()))
		return nil, err
	}

	o.logger.Debug("Upload batch finished", slog.Int("count", len(results)))
	return results, nil
}

// uploadFile performs one request/response exchange for file.
func (o *Orchestrator) uploadFile(ctx context.Context, file PendingFile) (UploadResult, error) {
	start := time.Now()

	body, formContentType, err := encodeForm(file)
	if err != nil {
		return UploadResult{}, &TransportError{Filename: file.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, body)
	if err != nil {
		return UploadResult{}, &TransportError{Filename: file.Name, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", formContentType)

	resp, err := o.client.Do(req)
	if err != nil {
		o.metrics.observeUpload(statusTransport, time.Since(start).Seconds(), 0)
		return UploadResult{}, &TransportError{Filename: file.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		o.metrics.observeUpload(statusHTTPError, time.Since(start).Seconds(), 0)
		o.logger.Warn("Upload rejected by processing service",
			slog.String("file", file.Name),
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(snippet))))
		return UploadResult{}, &TransportError{Filename: file.Name, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		o.metrics.observeUpload(statusDecode, time.Since(start).Seconds(), 0)
		return UploadResult{}, &DecodeError{Filename: file.Name, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}

	img, err := o.store.Acquire(data, contentType)
	if err != nil {
		o.metrics.observeUpload(statusDecode, time.Since(start).Seconds(), 0)
		return UploadResult{}, &DecodeError{Filename: file.Name, Err: err}
	}

	o.metrics.observeUpload(statusSuccess, time.Since(start).Seconds(), len(data))
	o.logger.Debug("Uploaded file",
		slog.String("file", file.Name),
		slog.String("content_type", contentType),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", time.Since(start)))

	return UploadResult{
		Filename:    file.Name,
		Image:       img,
		ContentType: contentType,
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeForm packages file as a single-part multipart/form-data body.
// The part's Content-Type is sniffed from the content, as a browser would send it.
func encodeForm(file PendingFile) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormField, quoteEscaper.Replace(file.Name)))
	h.Set("Content-Type", http.DetectContentType(file.Content))

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(file.Content); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
