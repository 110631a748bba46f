package linkscluster

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/similarity"
)

// updateCluster restores cluster invariants after target's centroid
// changed: it re-evaluates every edge incident to target, merges any
// neighbor whose similarity has risen to the absorption threshold
// (recursing on the enlarged sub-cluster), and detaches any neighbor
// whose similarity has fallen below its edge threshold and could not be
// reattached to any other peer. See SPEC_FULL.md section 4.5.
func (e *Engine) updateCluster(clusterIdx int, targetID uuid.UUID) error {
	cl := e.clusters[clusterIdx]
	ti := cl.indexOf(targetID)
	if ti == -1 {
		return fmt.Errorf("updateCluster: %w: target sub-cluster missing from its own cluster", ErrInvariantViolation)
	}
	target := cl.subclusters[ti]
	neighborIDs := target.Neighbors()

	var severed []*Subcluster

	for _, nid := range neighborIDs {
		ni := cl.indexOf(nid)
		if ni == -1 {
			e.warn("updateCluster: neighbor %s of %s no longer present in cluster %s, skipping", nid, targetID, cl.id)
			continue
		}

		ti = cl.indexOf(targetID)
		if ti == -1 {
			return fmt.Errorf("updateCluster: %w: target sub-cluster vanished mid-update", ErrInvariantViolation)
		}
		target = cl.subclusters[ti]
		neighbor := cl.subclusters[ni]

		sim, err := similarity.Cosine(target.Centroid(), neighbor.Centroid())
		if err != nil {
			return fmt.Errorf("updateCluster: %w", err)
		}

		if sim >= e.cfg.SubclusterSim {
			cl.mergeAt(ti, ni, e.warn)
			if err := e.updateCluster(clusterIdx, targetID); err != nil {
				return err
			}
			continue
		}

		stillConnected, err := e.updateEdge(target, neighbor)
		if err != nil {
			return err
		}
		if !stillConnected {
			severed = append(severed, neighbor)
		}
	}

	return e.resolveSevered(clusterIdx, severed)
}

// updateEdge recomputes the adjacency between a and b against the
// population-scaled threshold tau(k,k'). If similarity has fallen below
// tau, the edge is removed (non-fatal if already absent) and false is
// returned; otherwise the edge is (re-)established and true is returned.
func (e *Engine) updateEdge(a, b *Subcluster) (bool, error) {
	sim, err := similarity.Cosine(a.Centroid(), b.Centroid())
	if err != nil {
		return false, fmt.Errorf("updateEdge: %w", err)
	}
	tau := similarity.Threshold(e.cfg.ClusterSim, e.cfg.PairSimMax, a.vectorCount, b.vectorCount)
	if sim < tau {
		removeEdge(a, b, e.warn)
		return false, nil
	}
	addEdge(a, b)
	return true, nil
}

// resolveSevered attempts to reattach every severed candidate that ended
// this update with zero neighbors, each to the first qualifying peer
// scanned in the cluster's current positional order (SPEC_FULL.md section
// 9's frozen decision on edge-restoration scope). A candidate still
// unattached after that scan is split off into a new singleton cluster.
func (e *Engine) resolveSevered(clusterIdx int, severed []*Subcluster) error {
	cl := e.clusters[clusterIdx]

	for _, w := range severed {
		if len(w.neighbors) != 0 {
			continue
		}

		for _, x := range cl.subclusters {
			if x.id == w.id {
				continue
			}
			sim, err := similarity.Cosine(x.Centroid(), w.Centroid())
			if err != nil {
				return fmt.Errorf("resolveSevered: %w", err)
			}
			tau := similarity.Threshold(e.cfg.ClusterSim, e.cfg.PairSimMax, x.vectorCount, w.vectorCount)
			if sim >= tau {
				addEdge(x, w)
				break
			}
		}

		if len(w.neighbors) == 0 {
			idx := cl.indexOf(w.id)
			if idx == -1 {
				continue
			}
			cl.removeAt(idx)
			split := &Cluster{id: e.newID(), subclusters: []*Subcluster{w}}
			e.clusters = append(e.clusters, split)
		}
	}

	return nil
}
