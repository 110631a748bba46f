// Package mirror exports cluster centroids to an external ANN index for
// downstream lookup (similarity search over the clustering engine's
// output). Mirrors are best-effort observers: nothing in pkg/linkscluster
// consults them, and a mirror failure never affects Predict's outcome.
package mirror

import "context"

// Centroid is one sub-cluster's exported representative vector.
type Centroid struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Mirror pushes centroid updates to an external index. Implementations:
// pkg/mirror/pinecone, pkg/mirror/qdrant.
type Mirror interface {
	// UpsertCentroids pushes or replaces a batch of centroids.
	UpsertCentroids(ctx context.Context, centroids []Centroid) error

	// Close releases any held connections.
	Close() error
}
