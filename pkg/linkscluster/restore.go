package linkscluster

import (
	"time"

	"github.com/google/uuid"
)

// RestoredSubcluster is the intermediate, pre-wired form a persistence
// adapter builds while rehydrating a serialized sub-cluster. Neighbors
// holds raw ids; Restore wires them into live adjacency.
type RestoredSubcluster struct {
	ID                uuid.UUID
	Centroid          []float32
	VectorCount       int
	StoreVectors      bool
	Vectors           [][]float32
	Neighbors         []uuid.UUID
	LastSeen          time.Time
	PreviousConvs     []ConversationRecord
	TotalTimeOnCamera time.Duration
}

// RestoredCluster is the intermediate form of a rehydrated cluster.
type RestoredCluster struct {
	ID          uuid.UUID
	Subclusters []*RestoredSubcluster
}

// Restore builds a live *Cluster from a RestoredCluster produced by
// pkg/store.RehydrateNeighbors, wiring the neighbor id lists into the
// live adjacency sets.
func Restore(rc *RestoredCluster) *Cluster {
	subclusters := make([]*Subcluster, len(rc.Subclusters))
	for i, r := range rc.Subclusters {
		conv := make([]conversationWindow, len(r.PreviousConvs))
		for j, c := range r.PreviousConvs {
			conv[j] = conversationWindow{Start: c.Start, End: c.End, Duration: c.Duration}
		}
		subclusters[i] = &Subcluster{
			id:                r.ID,
			centroid:          r.Centroid,
			vectorCount:       r.VectorCount,
			storeVectors:      r.StoreVectors,
			vectors:           r.Vectors,
			neighbors:         make(map[uuid.UUID]struct{}, len(r.Neighbors)),
			lastSeen:          r.LastSeen,
			conversations:     conv,
			totalTimeObserved: r.TotalTimeOnCamera,
		}
	}
	for i, r := range rc.Subclusters {
		for _, nid := range r.Neighbors {
			subclusters[i].neighbors[nid] = struct{}{}
		}
	}
	return &Cluster{id: rc.ID, subclusters: subclusters}
}

// RestoreEngine rebuilds an engine's full cluster list from a set of
// previously-rehydrated clusters, for example at process startup after
// reading every document back from a Store.
func RestoreEngine(cfg Config, clusters []*Cluster) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg.withDefaults(), clusters: clusters}
	for _, cl := range clusters {
		for _, sc := range cl.subclusters {
			if len(sc.centroid) > e.dim {
				e.dim = len(sc.centroid)
			}
		}
	}
	return e, nil
}
