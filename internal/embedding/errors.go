package embedding

import (
	"errors"
	"fmt"
)

// EmbeddingError is returned when a text could not be embedded, either because every
// attempt failed or because the provider rejected the request outright.
type EmbeddingError struct {
	Attempts  int
	Permanent bool
	Err       error
}

func (e *EmbeddingError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("embedding rejected after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("embedding failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying later may succeed.
func (e *EmbeddingError) Temporary() bool {
	return !e.Permanent
}

// StatusError is a non-2xx response from the embedding provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.Code)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying: timeouts, throttling, server errors.
func (e *StatusError) Retryable() bool {
	return e.Code == 408 || e.Code == 429 || e.Code >= 500
}

// ErrMalformedResponse is returned for responses without a usable embedding.
var ErrMalformedResponse = errors.New("malformed embedding response")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
