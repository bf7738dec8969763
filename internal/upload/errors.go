package upload

import (
	"errors"
	"fmt"
)

// ErrUploadBatch matches any error returned by Orchestrator.UploadAll for a failed batch.
var ErrUploadBatch = errors.New("upload batch failed")

// TransportError is a network failure or a non-2xx response for one file.
type TransportError struct {
	Filename   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload of %s failed: status %d", e.Filename, e.StatusCode)
	}
	return fmt.Sprintf("upload of %s failed: %v", e.Filename, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError means a successful response could not be turned into an image resource.
type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response for %s: %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// BatchError wraps the first per-file failure that aborted a batch.
type BatchError struct {
	Index    int
	Filename string
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%v: file %d (%s): %v", ErrUploadBatch, e.Index, e.Filename, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func (e *BatchError) Is(target error) bool {
	return target == ErrUploadBatch
}
