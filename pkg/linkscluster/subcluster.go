package linkscluster

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// defaultConversationGap mirrors the original implementation's
// CONVERSATION_TRASHOLD: the maximum gap, in seconds, between two
// observations before the current conversation window is closed.
const defaultConversationGap = 30 * time.Second

// defaultMinConversationLength mirrors MINIMUM_CONVERSATION_LENGTH: a
// conversation window shorter than this is discarded rather than archived.
const defaultMinConversationLength = 1 * time.Second

// conversationWindow records one contiguous observation span.
type conversationWindow struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Subcluster is the finest-grained unit the engine tracks: a running
// centroid over every vector absorbed into it, plus the adjacency and
// observation bookkeeping described in SPEC_FULL.md section 3.
type Subcluster struct {
	id          uuid.UUID
	centroid    []float32
	vectorCount int

	storeVectors bool
	vectors      [][]float32

	neighbors map[uuid.UUID]struct{}

	lastSeen            time.Time
	currentConversation *conversationWindow
	conversations       []conversationWindow
	totalTimeObserved    time.Duration
}

// newSubcluster creates a sub-cluster seeded with a single vector.
func newSubcluster(id uuid.UUID, v []float32, storeVectors bool, now time.Time) *Subcluster {
	centroid := make([]float32, len(v))
	copy(centroid, v)

	sc := &Subcluster{
		id:           id,
		centroid:     centroid,
		vectorCount:  1,
		storeVectors: storeVectors,
		neighbors:    make(map[uuid.UUID]struct{}),
		lastSeen:     now,
	}
	if storeVectors {
		stored := make([]float32, len(v))
		copy(stored, v)
		sc.vectors = [][]float32{stored}
	}
	sc.openConversation(now)
	return sc
}

// ID returns the sub-cluster's immutable identifier.
func (s *Subcluster) ID() uuid.UUID { return s.id }

// Centroid returns a copy of the running mean vector.
func (s *Subcluster) Centroid() []float32 {
	out := make([]float32, len(s.centroid))
	copy(out, s.centroid)
	return out
}

// VectorCount returns the number of vectors folded into the centroid.
func (s *Subcluster) VectorCount() int { return s.vectorCount }

// Neighbors returns a snapshot slice of neighbor ids. Safe to range over
// while the live adjacency set is being mutated elsewhere.
func (s *Subcluster) Neighbors() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.neighbors))
	for id := range s.neighbors {
		out = append(out, id)
	}
	return out
}

func (s *Subcluster) hasNeighbor(id uuid.UUID) bool {
	_, ok := s.neighbors[id]
	return ok
}

// Add folds v into the sub-cluster's running centroid using the
// incremental mean c <- ((k-1)/k)*c + v/k, where k is the count AFTER
// the increment, and updates conversation bookkeeping.
func (s *Subcluster) Add(v []float32, now time.Time) error {
	if len(v) != len(s.centroid) {
		return fmt.Errorf("subcluster add: %w", ErrShapeMismatch)
	}

	s.vectorCount++
	k := float64(s.vectorCount)
	for i := range s.centroid {
		s.centroid[i] = float32((k-1)/k)*s.centroid[i] + float32(v[i])/float32(k)
	}

	if s.storeVectors {
		stored := make([]float32, len(v))
		copy(stored, v)
		s.vectors = append(s.vectors, stored)
	}

	s.observe(now)
	return nil
}

// observe applies the conversation-window update rule on a new timestamp.
func (s *Subcluster) observe(now time.Time) {
	if s.currentConversation == nil {
		s.openConversation(now)
		s.lastSeen = now
		return
	}
	if !s.lastSeen.IsZero() && now.Sub(s.lastSeen) <= defaultConversationGap {
		s.currentConversation.End = now
		s.currentConversation.Duration = s.currentConversation.End.Sub(s.currentConversation.Start)
	} else {
		s.closeConversation()
		s.openConversation(now)
	}
	s.lastSeen = now
}

func (s *Subcluster) openConversation(now time.Time) {
	s.currentConversation = &conversationWindow{Start: now, End: now, Duration: 0}
}

func (s *Subcluster) closeConversation() {
	if s.currentConversation == nil {
		return
	}
	if s.currentConversation.Duration > defaultMinConversationLength {
		s.conversations = append(s.conversations, *s.currentConversation)
		s.totalTimeObserved += s.currentConversation.Duration
	}
	s.currentConversation = nil
}

// Merge folds other into s: the weighted-mean centroid update, combined
// vector counts, concatenated stored vectors, and conversation-history
// concatenation resolved per the observation-metadata-merge policy
// (SPEC_FULL.md section 9). Edge transfer is the caller's responsibility
// (Cluster.mergeAt) since it requires resolving third-party neighbors by
// id against the full sub-cluster list, which a Subcluster cannot see.
//
// other is left in a retired state; callers must not use it afterward.
func (s *Subcluster) Merge(other *Subcluster, warn func(format string, args ...any)) {
	k, kp := float64(s.vectorCount), float64(other.vectorCount)
	total := k + kp
	for i := range s.centroid {
		s.centroid[i] = float32((k*float64(s.centroid[i]) + kp*float64(other.centroid[i])) / total)
	}
	s.vectorCount += other.vectorCount

	if s.storeVectors && other.storeVectors {
		s.vectors = append(s.vectors, other.vectors...)
	}

	s.mergeConversations(other, warn)
}

// mergeConversations concatenates conversation histories and re-sorts by
// start time. This resolves the observation-metadata-on-merge open
// question: the original implementation left this unimplemented (a bare
// TODO), so this generalizes Cluster.calculate_time_info's overlap-merge
// approach to the sub-cluster-merge case.
func (s *Subcluster) mergeConversations(other *Subcluster, warn func(format string, args ...any)) {
	if other.currentConversation != nil {
		other.closeConversation()
	}
	if len(other.conversations) == 0 {
		return
	}
	s.conversations = append(s.conversations, other.conversations...)
	s.totalTimeObserved += other.totalTimeObserved
	sort.Slice(s.conversations, func(i, j int) bool {
		return s.conversations[i].Start.Before(s.conversations[j].Start)
	})
	if other.lastSeen.After(s.lastSeen) {
		s.lastSeen = other.lastSeen
	}
}

// addEdge records a symmetric, irreflexive adjacency between a and b.
func addEdge(a, b *Subcluster) {
	if a.id == b.id {
		return
	}
	a.neighbors[b.id] = struct{}{}
	b.neighbors[a.id] = struct{}{}
}

// removeEdge removes the adjacency between a and b if present. Removing a
// non-existent edge is not an error; it is logged through warn and
// ignored, matching the original implementation's "Attempted to ... edge
// that didn't exist" warning.
func removeEdge(a, b *Subcluster, warn func(format string, args ...any)) {
	_, aHas := a.neighbors[b.id]
	_, bHas := b.neighbors[a.id]
	if !aHas && !bHas {
		if warn != nil {
			warn("attempted to remove a non-existent edge between %s and %s", a.id, b.id)
		}
		return
	}
	delete(a.neighbors, b.id)
	delete(b.neighbors, a.id)
}
