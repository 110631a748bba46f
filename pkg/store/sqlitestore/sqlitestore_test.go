package sqlitestore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	doc := store.ClusterDocument{ID: id, Subclusters: []store.SubclusterDocument{
		{ID: uuid.New(), Centroid: []float32{1, 0, 0}, VectorCount: 1},
	}}

	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Subclusters) != 1 {
		t.Fatalf("expected 1 subcluster, got %d", len(got.Subclusters))
	}
	if got.Subclusters[0].Centroid[0] != 1 {
		t.Errorf("expected centroid[0]=1, got %v", got.Subclusters[0].Centroid)
	}
}

func TestUpsertOverwritesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	_ = s.Upsert(ctx, store.ClusterDocument{ID: id, Subclusters: []store.SubclusterDocument{{ID: uuid.New()}}})
	_ = s.Upsert(ctx, store.ClusterDocument{ID: id, Subclusters: nil})

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Subclusters) != 0 {
		t.Errorf("expected overwrite to clear subclusters, got %d", len(got.Subclusters))
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAllOrdersByInsertion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		_ = s.Upsert(ctx, store.ClusterDocument{ID: id})
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != len(ids) {
		t.Fatalf("expected %d clusters, got %d", len(ids), len(all))
	}
	for i, doc := range all {
		if doc.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], doc.ID)
		}
	}
}

func TestSubclusterPositionalCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clusterID := uuid.New()
	if err := s.Upsert(ctx, store.ClusterDocument{ID: clusterID}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	a := store.SubclusterDocument{ID: uuid.New(), Centroid: []float32{1, 0}, VectorCount: 1}
	b := store.SubclusterDocument{ID: uuid.New(), Centroid: []float32{0, 1}, VectorCount: 2}

	if err := s.InsertSubcluster(ctx, clusterID, a); err != nil {
		t.Fatalf("insert a failed: %v", err)
	}
	if err := s.InsertSubcluster(ctx, clusterID, b); err != nil {
		t.Fatalf("insert b failed: %v", err)
	}

	got, err := s.GetSubcluster(ctx, clusterID, 1)
	if err != nil {
		t.Fatalf("get subcluster 1 failed: %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("expected subcluster at index 1 to be b, got %s", got.ID)
	}

	replacement := store.SubclusterDocument{ID: b.ID, Centroid: []float32{0, 1}, VectorCount: 3}
	if err := s.ReplaceSubcluster(ctx, clusterID, 1, replacement); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	got, err = s.GetSubcluster(ctx, clusterID, 1)
	if err != nil {
		t.Fatalf("get after replace failed: %v", err)
	}
	if got.VectorCount != 3 {
		t.Errorf("expected replaced vector count 3, got %d", got.VectorCount)
	}

	if err := s.RemoveSubcluster(ctx, clusterID, 0); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	cl, err := s.Get(ctx, clusterID)
	if err != nil {
		t.Fatalf("get after remove failed: %v", err)
	}
	if len(cl.Subclusters) != 1 || cl.Subclusters[0].ID != b.ID {
		t.Errorf("expected only b to remain after removing index 0, got %+v", cl.Subclusters)
	}
}

func TestSubclusterOpsOnMissingClusterFail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing := uuid.New()
	if err := s.InsertSubcluster(ctx, missing, store.SubclusterDocument{ID: uuid.New()}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetSubcluster(ctx, missing, 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSubclusterOutOfRangeIsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clusterID := uuid.New()
	_ = s.Upsert(ctx, store.ClusterDocument{ID: clusterID, Subclusters: []store.SubclusterDocument{{ID: uuid.New()}}})

	if _, err := s.GetSubcluster(ctx, clusterID, 5); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for out-of-range index, got %v", err)
	}
}

func TestDeleteRemovesClusterAndSubclusters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	_ = s.Upsert(ctx, store.ClusterDocument{ID: id, Subclusters: []store.SubclusterDocument{{ID: uuid.New()}}})

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting again is a no-op, matching memstore's semantics.
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("second delete should be a no-op, got: %v", err)
	}
}

func TestRoundTripPreservesConversationMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clusterID := uuid.New()
	subID := uuid.New()
	doc := store.ClusterDocument{
		ID: clusterID,
		Subclusters: []store.SubclusterDocument{{
			ID:                   subID,
			Centroid:             []float32{0.6, 0.8},
			VectorCount:          4,
			ConnectedSubclusters: []uuid.UUID{uuid.New()},
			PreviousConvs: []store.ConversationDocument{
				{Duration: 42},
			},
			TotalTimeOnCamera: 42,
		}},
	}

	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, clusterID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Subclusters) != 1 {
		t.Fatalf("expected 1 subcluster, got %d", len(got.Subclusters))
	}
	sc := got.Subclusters[0]
	if len(sc.PreviousConvs) != 1 || sc.PreviousConvs[0].Duration != 42 {
		t.Errorf("expected previous conversation duration 42, got %+v", sc.PreviousConvs)
	}
	if len(sc.ConnectedSubclusters) != 1 {
		t.Errorf("expected 1 connected subcluster id, got %d", len(sc.ConnectedSubclusters))
	}
}
