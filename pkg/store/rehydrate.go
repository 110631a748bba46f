package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/linkscluster"
)

// ToDocument projects a live cluster into its serializable form.
func ToDocument(view linkscluster.ClusterView) ClusterDocument {
	doc := ClusterDocument{ID: view.ID, Subclusters: make([]SubclusterDocument, len(view.Subclusters))}
	for i, sc := range view.Subclusters {
		prev := make([]ConversationDocument, len(sc.PreviousConvs))
		for j, c := range sc.PreviousConvs {
			prev[j] = ConversationDocument{Start: c.Start, End: c.End, Duration: c.Duration}
		}
		doc.Subclusters[i] = SubclusterDocument{
			ID:                   sc.ID,
			Centroid:             sc.Centroid,
			VectorCount:          sc.VectorCount,
			StoreVectors:         sc.StoreVectors,
			Vectors:              sc.Vectors,
			ConnectedSubclusters: sc.ConnectedSubclusters,
			LastSeen:             sc.LastSeen,
			ConvStartTime:        sc.ConvStartTime,
			ConvEndTime:          sc.ConvEndTime,
			ConvDuration:         sc.ConvDuration,
			PreviousConvs:        prev,
			TotalTimeOnCamera:    sc.TotalTimeOnCamera,
		}
	}
	return doc
}

// RehydrateNeighbors performs the two-pass walk SPEC_FULL.md section 9
// calls for: pass one reconstructs every sub-cluster's scalar state from
// its document without adjacency, pass two resolves each document's
// ConnectedSubclusters id list against the now-complete set and wires the
// live neighbor relation. An id that does not resolve to a sub-cluster
// within the SAME document is an ErrInvariantViolation: it indicates a
// corrupt restore, a neighbor recorded in one cluster but actually living
// in another.
func RehydrateNeighbors(doc ClusterDocument) (*linkscluster.RestoredCluster, error) {
	byID := make(map[uuid.UUID]*linkscluster.RestoredSubcluster, len(doc.Subclusters))
	order := make([]uuid.UUID, 0, len(doc.Subclusters))

	for _, scDoc := range doc.Subclusters {
		conv := make([]linkscluster.ConversationRecord, len(scDoc.PreviousConvs))
		for i, c := range scDoc.PreviousConvs {
			conv[i] = linkscluster.ConversationRecord{Start: c.Start, End: c.End, Duration: c.Duration}
		}
		sc := &linkscluster.RestoredSubcluster{
			ID:                scDoc.ID,
			Centroid:          scDoc.Centroid,
			VectorCount:       scDoc.VectorCount,
			StoreVectors:      scDoc.StoreVectors,
			Vectors:           scDoc.Vectors,
			LastSeen:          scDoc.LastSeen,
			PreviousConvs:     conv,
			TotalTimeOnCamera: scDoc.TotalTimeOnCamera,
		}
		byID[scDoc.ID] = sc
		order = append(order, scDoc.ID)
	}

	for _, scDoc := range doc.Subclusters {
		self := byID[scDoc.ID]
		for _, peerID := range scDoc.ConnectedSubclusters {
			if _, ok := byID[peerID]; !ok {
				return nil, fmt.Errorf("rehydrate cluster %s: sub-cluster %s references neighbor %s outside this cluster: %w",
					doc.ID, scDoc.ID, peerID, linkscluster.ErrInvariantViolation)
			}
			self.Neighbors = append(self.Neighbors, peerID)
		}
	}

	restored := make([]*linkscluster.RestoredSubcluster, len(order))
	for i, id := range order {
		restored[i] = byID[id]
	}
	return &linkscluster.RestoredCluster{ID: doc.ID, Subclusters: restored}, nil
}
