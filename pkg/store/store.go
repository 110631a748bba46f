// Package store defines the persistence-adapter contract the clustering
// engine's host application uses to save and restore cluster graphs, and
// the rehydration logic that restores in-memory adjacency from a
// serialized id list.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("store: not found")

// ConversationDocument is the serialized form of one archived observation
// window.
type ConversationDocument struct {
	Start    time.Time     `json:"start_time"`
	End      time.Time     `json:"end_time"`
	Duration time.Duration `json:"duration"`
}

// SubclusterDocument is the serialized form of one Subcluster, matching
// SPEC_FULL.md section 6's schema (field names follow the original
// implementation's as_dict output).
type SubclusterDocument struct {
	ID                   uuid.UUID              `json:"id"`
	Centroid             []float32               `json:"centroid"`
	VectorCount           int                    `json:"vector_count"`
	StoreVectors         bool                    `json:"store_vectors"`
	Vectors              [][]float32             `json:"vectors"`
	ConnectedSubclusters []uuid.UUID             `json:"connected_subclusters"`
	LastSeen             time.Time               `json:"last_seen"`
	ConvStartTime        time.Time               `json:"conv_start_time"`
	ConvEndTime          time.Time               `json:"conv_end_time"`
	ConvDuration         time.Duration           `json:"conv_duration"`
	PreviousConvs        []ConversationDocument  `json:"previous_convs"`
	TotalTimeOnCamera    time.Duration           `json:"total_time_on_camera"`
}

// ClusterDocument is the serialized form of one Cluster.
type ClusterDocument struct {
	ID          uuid.UUID            `json:"id"`
	Subclusters []SubclusterDocument `json:"subclusters"`
}

// Store is the persistence-adapter surface the engine's host application
// consumes (SPEC_FULL.md section 6). Implementations: memstore (in
// process) and sqlitestore (durable, single file).
type Store interface {
	// Upsert inserts or replaces a whole cluster document.
	Upsert(ctx context.Context, doc ClusterDocument) error

	// Get fetches one cluster document. Returns ErrNotFound if absent.
	Get(ctx context.Context, clusterID uuid.UUID) (ClusterDocument, error)

	// Delete removes a cluster document. A no-op if absent.
	Delete(ctx context.Context, clusterID uuid.UUID) error

	// ListAll returns every cluster document in a stable order.
	ListAll(ctx context.Context) ([]ClusterDocument, error)

	// InsertSubcluster appends a sub-cluster document to clusterID's list.
	InsertSubcluster(ctx context.Context, clusterID uuid.UUID, doc SubclusterDocument) error

	// ReplaceSubcluster replaces the sub-cluster document at a zero-based
	// index within clusterID's list.
	ReplaceSubcluster(ctx context.Context, clusterID uuid.UUID, index int, doc SubclusterDocument) error

	// RemoveSubcluster removes the sub-cluster document at a zero-based
	// index within clusterID's list.
	RemoveSubcluster(ctx context.Context, clusterID uuid.UUID, index int) error

	// GetSubcluster fetches one sub-cluster document by zero-based index.
	GetSubcluster(ctx context.Context, clusterID uuid.UUID, index int) (SubclusterDocument, error)

	// Close releases any resources held by the store.
	Close() error
}
