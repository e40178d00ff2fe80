package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/webrag/internal/embedding"
	"github.com/hyperjump/webrag/internal/indexer"
)

// Stages reported in Error.Op.
const (
	OpChunk   = "chunk"
	OpEmbed   = "embed"
	OpPersist = "persist"
	OpLoad    = "load"
	OpSearch  = "search"
	OpResolve = "resolve"
)

var (
	// ErrEmptySource is returned when the source documents produce no chunks.
	ErrEmptySource = errors.New("source produced no chunks")
	// ErrNoSource is returned by a SourceResolver that has nothing to build from.
	ErrNoSource = indexer.ErrNoSource
)

// Error records the stage at which a retrieval operation failed.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation later may succeed.
func (e *Error) Temporary() bool {
	return IsTransient(e.Err)
}

// CollectionNotFoundError is returned by a query for a collection that has no index and
// no source to build one from.
type CollectionNotFoundError struct {
	ID string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found", e.ID)
}

// IsTransient reports whether err is worth retrying: a temporary embedding failure or a deadline.
func IsTransient(err error) bool {
	var embErr *embedding.EmbeddingError
	if errors.As(err, &embErr) {
		return embErr.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
