package linkscluster

import (
	"github.com/google/uuid"
)

// Cluster is an ordered collection of sub-clusters that, outside of a
// brief window during updateCluster, form a single connected component
// under the neighbor relation.
type Cluster struct {
	id          uuid.UUID
	subclusters []*Subcluster
}

// ID returns the cluster's immutable identifier.
func (c *Cluster) ID() uuid.UUID { return c.id }

// Subclusters returns the live, ordered slice of sub-clusters. Index
// position is the external identifier used by the persistence adapter;
// callers must not retain the slice across a mutating call.
func (c *Cluster) Subclusters() []*Subcluster { return c.subclusters }

// indexOf returns the current position of sc by identity, or -1 if sc is
// not (or no longer) a member of this cluster.
func (c *Cluster) indexOf(id uuid.UUID) int {
	for i, sc := range c.subclusters {
		if sc.id == id {
			return i
		}
	}
	return -1
}

// append adds sc to the end of the sub-cluster list.
func (c *Cluster) append(sc *Subcluster) {
	c.subclusters = append(c.subclusters, sc)
}

// removeAt deletes the sub-cluster at index i, preserving order of the
// remainder.
func (c *Cluster) removeAt(i int) {
	c.subclusters = append(c.subclusters[:i], c.subclusters[i+1:]...)
}

// mergeAt merges the sub-cluster at index j into the one at index i
// (4.3's merge-by-indices): folds j's mass into i, transfers every edge j
// held to a third party over to i (removing j's side, adding i's), drops
// the direct i-j edge if present, then compacts the list by removing j.
// Precondition: i != j.
func (c *Cluster) mergeAt(i, j int, warn func(format string, args ...any)) {
	target := c.subclusters[i]
	merged := c.subclusters[j]

	peerIDs := merged.Neighbors()
	target.Merge(merged, warn)
	removeEdge(target, merged, warn)

	for _, pid := range peerIDs {
		if pid == target.id {
			continue
		}
		pi := c.indexOf(pid)
		if pi == -1 {
			continue
		}
		peer := c.subclusters[pi]
		removeEdge(merged, peer, warn)
		addEdge(target, peer)
	}

	c.removeAt(j)
}
