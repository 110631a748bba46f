// Package retriever abstracts reading previously embedded vectors back
// out of a vector database in stable, paginated order, so cmd/sync.go can
// replay a population into a fresh engine deterministically.
package retriever

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by sources.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrConnectionFailed = errors.New("connection to vector database failed")
	ErrRateLimited      = errors.New("rate limited by vector database")
	ErrTimeout          = errors.New("query timeout")
)

// Filter scopes and paginates a replay query.
type Filter struct {
	// Namespace restricts the query to one logical partition, if the
	// backend supports one.
	Namespace string

	// Cursor resumes a previous Query call; empty starts from the
	// beginning.
	Cursor string

	// PageSize caps how many records one Query call returns.
	PageSize int
}

// Record is one previously embedded vector read back for replay.
type Record struct {
	ID         string
	Embedding  []float32
	ObservedAt time.Time
	Metadata   map[string]any
}

// Page is one page of replay records plus a cursor for the next page.
// NextCursor is empty when there is nothing left to read.
type Page struct {
	Records    []Record
	NextCursor string
}

// Source reads back vectors for replay, in stable pagination order.
// Implementations: pkg/retriever/pinecone, pkg/retriever/qdrant.
type Source interface {
	// Query returns the next page of records matching filter.
	Query(ctx context.Context, filter Filter) (*Page, error)

	// Close releases any resources held by the source.
	Close() error
}

// Config holds common source configuration.
type Config struct {
	APIKey           string
	Host             string
	TimeoutSeconds   int
	MaxRetries       int
	DefaultNamespace string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TimeoutSeconds: 30,
		MaxRetries:     3,
	}
}
