// Package memstore implements an in-process store.Store over a guarded
// map, for tests and single-process deployments.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/store"
)

// Store is an in-memory, mutex-guarded implementation of store.Store.
type Store struct {
	mu       sync.RWMutex
	clusters map[uuid.UUID]store.ClusterDocument
	order    []uuid.UUID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{clusters: make(map[uuid.UUID]store.ClusterDocument)}
}

func (s *Store) Upsert(_ context.Context, doc store.ClusterDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clusters[doc.ID]; !exists {
		s.order = append(s.order, doc.ID)
	}
	s.clusters[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *Store) Get(_ context.Context, clusterID uuid.UUID) (store.ClusterDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.clusters[clusterID]
	if !ok {
		return store.ClusterDocument{}, store.ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *Store) Delete(_ context.Context, clusterID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[clusterID]; !ok {
		return nil
	}
	delete(s.clusters, clusterID)
	for i, id := range s.order {
		if id == clusterID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListAll(_ context.Context) ([]store.ClusterDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ClusterDocument, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneDocument(s.clusters[id]))
	}
	return out, nil
}

func (s *Store) InsertSubcluster(_ context.Context, clusterID uuid.UUID, doc store.SubclusterDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.clusters[clusterID]
	if !ok {
		return fmt.Errorf("insert subcluster: cluster %s: %w", clusterID, store.ErrNotFound)
	}
	cl.Subclusters = append(cl.Subclusters, doc)
	s.clusters[clusterID] = cl
	return nil
}

func (s *Store) ReplaceSubcluster(_ context.Context, clusterID uuid.UUID, index int, doc store.SubclusterDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.clusters[clusterID]
	if !ok {
		return fmt.Errorf("replace subcluster: cluster %s: %w", clusterID, store.ErrNotFound)
	}
	if index < 0 || index >= len(cl.Subclusters) {
		return fmt.Errorf("replace subcluster: index %d out of range for cluster %s: %w", index, clusterID, store.ErrNotFound)
	}
	cl.Subclusters[index] = doc
	s.clusters[clusterID] = cl
	return nil
}

func (s *Store) RemoveSubcluster(_ context.Context, clusterID uuid.UUID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.clusters[clusterID]
	if !ok {
		return fmt.Errorf("remove subcluster: cluster %s: %w", clusterID, store.ErrNotFound)
	}
	if index < 0 || index >= len(cl.Subclusters) {
		return fmt.Errorf("remove subcluster: index %d out of range for cluster %s: %w", index, clusterID, store.ErrNotFound)
	}
	cl.Subclusters = append(cl.Subclusters[:index], cl.Subclusters[index+1:]...)
	s.clusters[clusterID] = cl
	return nil
}

func (s *Store) GetSubcluster(_ context.Context, clusterID uuid.UUID, index int) (store.SubclusterDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl, ok := s.clusters[clusterID]
	if !ok {
		return store.SubclusterDocument{}, fmt.Errorf("get subcluster: cluster %s: %w", clusterID, store.ErrNotFound)
	}
	if index < 0 || index >= len(cl.Subclusters) {
		return store.SubclusterDocument{}, fmt.Errorf("get subcluster: index %d out of range for cluster %s: %w", index, clusterID, store.ErrNotFound)
	}
	return cl.Subclusters[index], nil
}

func (s *Store) Close() error { return nil }

func cloneDocument(doc store.ClusterDocument) store.ClusterDocument {
	out := store.ClusterDocument{ID: doc.ID, Subclusters: make([]store.SubclusterDocument, len(doc.Subclusters))}
	copy(out.Subclusters, doc.Subclusters)
	return out
}
