package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/hyperjump/webrag/internal/embedding"
	"github.com/hyperjump/webrag/internal/retrieval"
	"github.com/hyperjump/webrag/internal/storage"
)

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var notFound *retrieval.CollectionNotFoundError
	var embErr *embedding.EmbeddingError
	switch {
	case errors.Is(err, storage.ErrInvalidCollectionID),
		errors.Is(err, retrieval.ErrEmptySource),
		errors.Is(err, retrieval.ErrNoSource):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, storage.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &embErr) && embErr.Permanent:
		return http.StatusBadGateway
	case retrieval.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
