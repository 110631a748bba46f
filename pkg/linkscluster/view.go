package linkscluster

import (
	"time"

	"github.com/google/uuid"
)

// SubclusterView is the externally-visible, read-only projection of a
// Subcluster: safe to serialize, log, or hand to a caller without
// exposing mutable internal state.
type SubclusterView struct {
	ID                   uuid.UUID
	Centroid             []float32
	VectorCount          int
	StoreVectors         bool
	Vectors              [][]float32
	ConnectedSubclusters []uuid.UUID
	LastSeen             time.Time
	ConvStartTime        time.Time
	ConvEndTime          time.Time
	ConvDuration         time.Duration
	PreviousConvs        []ConversationRecord
	TotalTimeOnCamera    time.Duration
}

// ConversationRecord is the externally-visible projection of one archived
// observation window.
type ConversationRecord struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// ClusterView is the externally-visible projection of a Cluster.
type ClusterView struct {
	ID          uuid.UUID
	Subclusters []SubclusterView
}

// View projects sc into its external, read-only form.
func (sc *Subcluster) View() SubclusterView {
	conns := sc.Neighbors()
	var start, end time.Time
	var dur time.Duration
	if sc.currentConversation != nil {
		start = sc.currentConversation.Start
		end = sc.currentConversation.End
		dur = sc.currentConversation.Duration
	}
	prev := make([]ConversationRecord, len(sc.conversations))
	for i, c := range sc.conversations {
		prev[i] = ConversationRecord{Start: c.Start, End: c.End, Duration: c.Duration}
	}

	var vectors [][]float32
	if sc.storeVectors {
		vectors = make([][]float32, len(sc.vectors))
		for i, v := range sc.vectors {
			cp := make([]float32, len(v))
			copy(cp, v)
			vectors[i] = cp
		}
	}

	return SubclusterView{
		ID:                   sc.id,
		Centroid:             sc.Centroid(),
		VectorCount:          sc.vectorCount,
		StoreVectors:         sc.storeVectors,
		Vectors:              vectors,
		ConnectedSubclusters: conns,
		LastSeen:             sc.lastSeen,
		ConvStartTime:        start,
		ConvEndTime:          end,
		ConvDuration:         dur,
		PreviousConvs:        prev,
		TotalTimeOnCamera:    sc.totalTimeObserved,
	}
}

// View projects c into its external, read-only form.
func (c *Cluster) View() ClusterView {
	views := make([]SubclusterView, len(c.subclusters))
	for i, sc := range c.subclusters {
		views[i] = sc.View()
	}
	return ClusterView{ID: c.id, Subclusters: views}
}

// ClusterByID returns the cluster with the given id, or ErrNotFound.
func (e *Engine) ClusterByID(id uuid.UUID) (*Cluster, error) {
	for _, cl := range e.clusters {
		if cl.id == id {
			return cl, nil
		}
	}
	return nil, ErrNotFound
}

// ClusterCount returns the number of live clusters.
func (e *Engine) ClusterCount() int { return len(e.clusters) }
