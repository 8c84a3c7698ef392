package model

import "errors"

var (
	// ErrUnavailable means a provider could not be reached and no cached value exists.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRateLimited means a provider kept answering 429 after retries.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrMalformedExtraction means extraction output could not be decoded or repaired.
	ErrMalformedExtraction = errors.New("malformed extraction output")

	// ErrExtractionFailed means the extraction provider returned an error.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrValidation means a raw item failed normalization checks.
	ErrValidation = errors.New("validation failed")

	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrShuttingDown      = errors.New("pipeline is shutting down")
)
