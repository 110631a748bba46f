// Package linkscluster implements an online agglomerative clustering
// engine over fixed-dimension float32 vectors, following the "Links"
// scheme: clusters are connected components of a graph whose nodes are
// sub-cluster centroids and whose edges are governed by a population-
// scaled cosine-similarity threshold.
package linkscluster

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/similarity"
)

// Engine owns the full set of clusters and the parameters that govern
// every similarity decision. It is not safe for concurrent use; callers
// needing parallelism must serialize access with an external mutex (see
// SPEC_FULL.md section 5).
type Engine struct {
	cfg      Config
	clusters []*Cluster
	dim      int
}

// NewEngine constructs an empty engine. Returns ErrBadParameter if the
// configuration violates 0 < S <= sigma <= M <= 1.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg.withDefaults()}, nil
}

// Clusters returns the live, ordered slice of clusters.
func (e *Engine) Clusters() []*Cluster { return e.clusters }

func (e *Engine) warn(format string, args ...any) {
	e.cfg.Logger(format, args...)
}

func (e *Engine) newID() uuid.UUID { return e.cfg.IDFunc() }

func (e *Engine) now() time.Time { return e.cfg.Clock() }

// Predict assigns v to a sub-cluster, possibly creating a new sub-cluster
// or a new cluster, following SPEC_FULL.md section 4.4. Returns the
// affected cluster, or nil if this is the very first vector the engine
// has ever seen. now is the observation timestamp used for conversation
// bookkeeping.
func (e *Engine) Predict(v []float32, now time.Time) (*Cluster, error) {
	if e.dim != 0 && len(v) != e.dim {
		return nil, fmt.Errorf("predict: %w", ErrShapeMismatch)
	}
	if similarity.Norm(v) == 0 {
		return nil, fmt.Errorf("predict: %w", ErrDegenerateVector)
	}
	if e.dim == 0 {
		e.dim = len(v)
	}

	if len(e.clusters) == 0 {
		sc := newSubcluster(e.newID(), v, e.cfg.StoreVectors, now)
		cl := &Cluster{id: e.newID(), subclusters: []*Subcluster{sc}}
		e.clusters = append(e.clusters, cl)
		return nil, nil
	}

	bestSim := -2.0
	var bestCl, bestSc int
	found := false
	for ci, cl := range e.clusters {
		for si, sc := range cl.subclusters {
			sim, err := similarity.Cosine(v, sc.centroid)
			if err != nil {
				return nil, fmt.Errorf("predict: %w", err)
			}
			if sim > bestSim {
				bestSim = sim
				bestCl, bestSc = ci, si
				found = true
			}
		}
	}
	if !found {
		// Unreachable given the len(e.clusters)==0 guard above, but kept
		// as an explicit invariant check rather than an assumption.
		return nil, fmt.Errorf("predict: %w: no sub-clusters to scan", ErrInvariantViolation)
	}

	cl := e.clusters[bestCl]
	target := cl.subclusters[bestSc]

	if bestSim >= e.cfg.SubclusterSim {
		targetID := target.ID()
		if err := target.Add(v, now); err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
		if err := e.updateCluster(bestCl, targetID); err != nil {
			return nil, err
		}
		return cl, nil
	}

	n := newSubcluster(e.newID(), v, e.cfg.StoreVectors, now)
	sim, err := similarity.Cosine(n.centroid, target.centroid)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	tau := similarity.Threshold(e.cfg.ClusterSim, e.cfg.PairSimMax, target.vectorCount, 1)

	if sim >= tau {
		addEdge(target, n)
		cl.append(n)
		return cl, nil
	}

	newCl := &Cluster{id: e.newID(), subclusters: []*Subcluster{n}}
	e.clusters = append(e.clusters, newCl)
	return newCl, nil
}

// AllVectors concatenates every stored vector across every sub-cluster.
// Returns ErrNotRetained if the engine was not configured to store them.
func (e *Engine) AllVectors() ([][]float32, error) {
	if !e.cfg.StoreVectors {
		return nil, ErrNotRetained
	}
	var out [][]float32
	for _, cl := range e.clusters {
		for _, sc := range cl.subclusters {
			out = append(out, sc.vectors...)
		}
	}
	return out, nil
}

// removeCluster deletes the cluster at index i from the engine's list.
func (e *Engine) removeCluster(i int) {
	e.clusters = append(e.clusters[:i], e.clusters[i+1:]...)
}
