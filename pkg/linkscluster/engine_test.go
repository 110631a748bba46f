package linkscluster

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// sequentialIDs returns an IDFunc that yields deterministic, strictly
// increasing UUIDs so test assertions never depend on randomness.
func sequentialIDs() func() uuid.UUID {
	var n uint64
	return func() uuid.UUID {
		n++
		var id uuid.UUID
		id[15] = byte(n)
		id[14] = byte(n >> 8)
		return id
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Clock = fixedClock(time.Unix(1_700_000_000, 0))
	cfg.IDFunc = sequentialIDs()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestPredictFirstVectorSeedsCluster(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99})
	now := time.Unix(1_700_000_000, 0)

	prior, err := e.Predict([]float32{1, 0, 0}, now)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if prior != nil {
		t.Errorf("expected nil prior cluster on first vector, got %v", prior)
	}
	if e.ClusterCount() != 1 {
		t.Fatalf("expected 1 cluster, got %d", e.ClusterCount())
	}
	cl := e.clusters[0]
	if len(cl.subclusters) != 1 {
		t.Fatalf("expected 1 sub-cluster, got %d", len(cl.subclusters))
	}
	if cl.subclusters[0].VectorCount() != 1 {
		t.Errorf("expected vector count 1, got %d", cl.subclusters[0].VectorCount())
	}
}

func TestPredictNearDuplicateAbsorbed(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99})
	now := time.Unix(1_700_000_000, 0)

	if _, err := e.Predict([]float32{1, 0, 0}, now); err != nil {
		t.Fatalf("Predict #1: %v", err)
	}
	cl, err := e.Predict([]float32{0.99, 0.01, 0}, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Predict #2: %v", err)
	}
	if cl == nil {
		t.Fatal("expected a returned cluster, got nil")
	}
	if e.ClusterCount() != 1 {
		t.Fatalf("expected 1 cluster, got %d", e.ClusterCount())
	}
	if len(cl.subclusters) != 1 {
		t.Fatalf("expected absorption into 1 sub-cluster, got %d", len(cl.subclusters))
	}
	if cl.subclusters[0].VectorCount() != 2 {
		t.Errorf("expected vector count 2, got %d", cl.subclusters[0].VectorCount())
	}
}

func TestPredictSimilarButDistinctAttaches(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99})
	now := time.Unix(1_700_000_000, 0)

	if _, err := e.Predict([]float32{1, 0, 0}, now); err != nil {
		t.Fatalf("Predict #1: %v", err)
	}
	cl, err := e.Predict([]float32{0.85, 0.526783, 0}, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Predict #2: %v", err)
	}
	if e.ClusterCount() != 1 {
		t.Fatalf("expected 1 cluster, got %d", e.ClusterCount())
	}
	if len(cl.subclusters) != 2 {
		t.Fatalf("expected 2 sub-clusters (attach case), got %d", len(cl.subclusters))
	}
	a, b := cl.subclusters[0], cl.subclusters[1]
	if !a.hasNeighbor(b.id) || !b.hasNeighbor(a.id) {
		t.Error("expected attached sub-clusters to be mutual neighbors")
	}
	if a.VectorCount() != 1 || b.VectorCount() != 1 {
		t.Error("expected both sub-clusters to retain vector count 1")
	}
}

func TestPredictFarVectorCreatesNewCluster(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99})
	now := time.Unix(1_700_000_000, 0)

	if _, err := e.Predict([]float32{1, 0, 0}, now); err != nil {
		t.Fatalf("Predict #1: %v", err)
	}
	if _, err := e.Predict([]float32{0.85, 0.526783, 0}, now); err != nil {
		t.Fatalf("Predict #2: %v", err)
	}
	cl, err := e.Predict([]float32{0, 0, 1}, now)
	if err != nil {
		t.Fatalf("Predict #3: %v", err)
	}
	if e.ClusterCount() != 2 {
		t.Fatalf("expected 2 clusters, got %d", e.ClusterCount())
	}
	if len(cl.subclusters) != 1 {
		t.Fatalf("expected the new cluster to hold exactly 1 sub-cluster, got %d", len(cl.subclusters))
	}
	if len(cl.subclusters[0].Neighbors()) != 0 {
		t.Error("expected the new singleton sub-cluster to have no neighbors")
	}
}

func TestPredictRejectsDegenerateVector(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99})
	if _, err := e.Predict([]float32{0, 0, 0}, time.Now()); err == nil {
		t.Fatal("expected an error for a zero-norm vector")
	}
}

func TestPredictRejectsShapeMismatch(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99})
	now := time.Unix(1_700_000_000, 0)
	if _, err := e.Predict([]float32{1, 0, 0}, now); err != nil {
		t.Fatalf("Predict #1: %v", err)
	}
	if _, err := e.Predict([]float32{1, 0}, now); err == nil {
		t.Fatal("expected a shape-mismatch error")
	}
}

// newStandaloneSubcluster builds a Subcluster directly from a centroid and
// population, bypassing Predict, for white-box maintainer tests where the
// exact internal state must be pinned down precisely.
func newStandaloneSubcluster(id uuid.UUID, centroid []float32, count int) *Subcluster {
	return &Subcluster{
		id:          id,
		centroid:    centroid,
		vectorCount: count,
		neighbors:   make(map[uuid.UUID]struct{}),
	}
}

func TestUpdateClusterMergesWhenSimilarityCrossesSigma(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.7, SubclusterSim: 0.95, PairSimMax: 0.99})

	idA, idB := uuid.New(), uuid.New()
	a := newStandaloneSubcluster(idA, []float32{1, 0, 0}, 5)
	b := newStandaloneSubcluster(idB, []float32{0.96, 0.2801, 0}, 3)
	addEdge(a, b)

	cl := &Cluster{id: uuid.New(), subclusters: []*Subcluster{a, b}}
	e.clusters = []*Cluster{cl}

	if err := e.updateCluster(0, idA); err != nil {
		t.Fatalf("updateCluster: %v", err)
	}

	if len(cl.subclusters) != 1 {
		t.Fatalf("expected the two sub-clusters to merge into 1, got %d", len(cl.subclusters))
	}
	merged := cl.subclusters[0]
	if merged.VectorCount() != 8 {
		t.Errorf("expected merged vector count 8, got %d", merged.VectorCount())
	}
	if len(merged.Neighbors()) != 0 {
		t.Errorf("expected the merged sub-cluster to have no remaining neighbors, got %d", len(merged.Neighbors()))
	}
}

func TestUpdateClusterSplitsOffDisconnectedNeighbors(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.7, SubclusterSim: 0.95, PairSimMax: 0.99})

	idA, idB, idC := uuid.New(), uuid.New(), uuid.New()
	a := newStandaloneSubcluster(idA, []float32{1, 0, 0}, 1)
	b := newStandaloneSubcluster(idB, []float32{0, 1, 0}, 1)
	c := newStandaloneSubcluster(idC, []float32{0, 0, 1}, 1)
	addEdge(a, b)
	addEdge(b, c)

	cl := &Cluster{id: uuid.New(), subclusters: []*Subcluster{a, b, c}}
	e.clusters = []*Cluster{cl}

	if err := e.updateCluster(0, idB); err != nil {
		t.Fatalf("updateCluster: %v", err)
	}

	if len(cl.subclusters) != 1 || cl.subclusters[0].id != idB {
		t.Fatalf("expected the original cluster to retain only B, got %d sub-clusters", len(cl.subclusters))
	}
	if len(b.Neighbors()) != 0 {
		t.Errorf("expected B to end with no neighbors, got %d", len(b.Neighbors()))
	}
	if e.ClusterCount() != 3 {
		t.Fatalf("expected 3 clusters total (original + 2 splits), got %d", e.ClusterCount())
	}

	var sawA, sawC bool
	for _, other := range e.clusters[1:] {
		if len(other.subclusters) != 1 {
			t.Fatalf("expected each split cluster to be a singleton, got %d members", len(other.subclusters))
		}
		switch other.subclusters[0].id {
		case idA:
			sawA = true
		case idC:
			sawC = true
		}
	}
	if !sawA || !sawC {
		t.Error("expected both A and C to have been split into their own singleton clusters")
	}
}

func TestAllVectorsNotRetained(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99})
	if _, err := e.Predict([]float32{1, 0, 0}, time.Unix(1_700_000_000, 0)); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if _, err := e.AllVectors(); err == nil {
		t.Fatal("expected ErrNotRetained")
	}
}

func TestAllVectorsRetained(t *testing.T) {
	e := newTestEngine(t, Config{ClusterSim: 0.8, SubclusterSim: 0.9, PairSimMax: 0.99, StoreVectors: true})
	now := time.Unix(1_700_000_000, 0)
	if _, err := e.Predict([]float32{1, 0, 0}, now); err != nil {
		t.Fatalf("Predict #1: %v", err)
	}
	if _, err := e.Predict([]float32{0.99, 0.01, 0}, now); err != nil {
		t.Fatalf("Predict #2: %v", err)
	}
	vecs, err := e.AllVectors()
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(vecs) != 2 {
		t.Errorf("expected 2 stored vectors, got %d", len(vecs))
	}
}

func TestNewEngineRejectsBadParameters(t *testing.T) {
	cases := []Config{
		{ClusterSim: 0, SubclusterSim: 0.9, PairSimMax: 0.99},
		{ClusterSim: 1, SubclusterSim: 1, PairSimMax: 1},
		{ClusterSim: 0.9, SubclusterSim: 0.8, PairSimMax: 0.99},
		{ClusterSim: 0.7, SubclusterSim: 0.9, PairSimMax: 0.8},
	}
	for i, cfg := range cases {
		if _, err := NewEngine(cfg); err == nil {
			t.Errorf("case %d: expected ErrBadParameter", i)
		}
	}
}

func TestDeterminismAcrossIdenticalRuns(t *testing.T) {
	inputs := [][]float32{
		{1, 0, 0},
		{0.99, 0.01, 0},
		{0.85, 0.526783, 0},
		{0, 0, 1},
		{0, 0.1, 0.995},
	}
	cfg := Config{ClusterSim: 0.7, SubclusterSim: 0.9, PairSimMax: 0.99}
	now := time.Unix(1_700_000_000, 0)

	run := func() []int {
		e := newTestEngine(t, cfg)
		var sizes []int
		for _, v := range inputs {
			if _, err := e.Predict(v, now); err != nil {
				t.Fatalf("Predict: %v", err)
			}
		}
		for _, cl := range e.clusters {
			sizes = append(sizes, len(cl.subclusters))
		}
		return sizes
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("non-deterministic cluster count: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("non-deterministic cluster shape at index %d: %v vs %v", i, first, second)
		}
	}
}
