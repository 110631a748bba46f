package linkscluster

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestClusterIndexOf(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := newSubcluster(uuid.New(), []float32{1, 0, 0}, false, now)
	b := newSubcluster(uuid.New(), []float32{0, 1, 0}, false, now)
	cl := &Cluster{id: uuid.New(), subclusters: []*Subcluster{a, b}}

	if cl.indexOf(a.id) != 0 {
		t.Errorf("expected a at index 0, got %d", cl.indexOf(a.id))
	}
	if cl.indexOf(b.id) != 1 {
		t.Errorf("expected b at index 1, got %d", cl.indexOf(b.id))
	}
	if cl.indexOf(uuid.New()) != -1 {
		t.Error("expected -1 for an unknown id")
	}
}

func TestClusterRemoveAtPreservesOrder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := newSubcluster(uuid.New(), []float32{1, 0, 0}, false, now)
	b := newSubcluster(uuid.New(), []float32{0, 1, 0}, false, now)
	c := newSubcluster(uuid.New(), []float32{0, 0, 1}, false, now)
	cl := &Cluster{id: uuid.New(), subclusters: []*Subcluster{a, b, c}}

	cl.removeAt(1)

	if len(cl.subclusters) != 2 {
		t.Fatalf("expected 2 remaining sub-clusters, got %d", len(cl.subclusters))
	}
	if cl.subclusters[0].id != a.id || cl.subclusters[1].id != c.id {
		t.Error("expected removal to preserve the order of the remaining sub-clusters")
	}
}

func TestClusterAppend(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := newSubcluster(uuid.New(), []float32{1, 0, 0}, false, now)
	cl := &Cluster{id: uuid.New()}
	cl.append(a)
	if len(cl.subclusters) != 1 || cl.subclusters[0].id != a.id {
		t.Error("expected append to add the sub-cluster")
	}
}
