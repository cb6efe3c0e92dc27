// Package download implements resumable HTTP downloads with retry/backoff,
// range validation, and corruption detection for large archive fetches.
package download

import "fmt"

// ErrorCode classifies terminal download failures.
type ErrorCode string

const (
	// CodeNetwork covers transient transport failures that exhausted retries.
	CodeNetwork ErrorCode = "NETWORK"

	// CodeHTTPStatus covers non-retryable or retry-exhausted HTTP statuses.
	CodeHTTPStatus ErrorCode = "HTTP_STATUS"

	// CodeDataOverflow signals more bytes arrived than the expected size
	// allows (1% plus fixed slack).
	CodeDataOverflow ErrorCode = "DATA_OVERFLOW"

	// CodeSizeMismatch signals the completed file differs from the
	// expected size.
	CodeSizeMismatch ErrorCode = "SIZE_MISMATCH"

	// CodeTooManyRestarts signals the bounded full-restart budget was
	// spent (repeated 416s or discarded partials).
	CodeTooManyRestarts ErrorCode = "TOO_MANY_RESTARTS"
)

// Error is the terminal failure of a download, carrying enough context to
// diagnose without re-running.
type Error struct {
	Code      ErrorCode
	URL       string
	Attempts  int
	Retryable bool
	Bytes     int64 // bytes downloaded before failing
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("download %s: %s after %d attempts (%d bytes): %v",
			e.URL, e.Code, e.Attempts, e.Bytes, e.cause)
	}
	return fmt.Sprintf("download %s: %s after %d attempts (%d bytes)",
		e.URL, e.Code, e.Attempts, e.Bytes)
}

func (e *Error) Unwrap() error { return e.cause }
