// Package sqlitestore implements store.Store over a single SQLite file,
// using the database's JSON1 functions for positional sub-cluster
// mutation the same way the original Python implementation's
// person_memory.py module did (json_insert/json_replace/json_remove
// against a JSON array column), adapted here to Go's database/sql and a
// pure-Go driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/store"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed store.Store. One row per cluster; the
// sub-cluster list is stored as a JSON array column mutated positionally
// through SQLite's built-in JSON functions.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the clusters table at path. Use
// ":memory:" for an ephemeral, process-local database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite allows only one writer at a time.

	const schema = `
CREATE TABLE IF NOT EXISTS clusters (
	id          TEXT PRIMARY KEY,
	subclusters TEXT NOT NULL DEFAULT '[]'
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Upsert(ctx context.Context, doc store.ClusterDocument) error {
	subs := doc.Subclusters
	if subs == nil {
		subs = []store.SubclusterDocument{}
	}
	body, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal cluster %s: %w", doc.ID, err)
	}
	const q = `
INSERT INTO clusters (id, subclusters) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET subclusters = excluded.subclusters;`
	if _, err := s.db.ExecContext(ctx, q, doc.ID.String(), string(body)); err != nil {
		return fmt.Errorf("sqlitestore: upsert cluster %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, clusterID uuid.UUID) (store.ClusterDocument, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT subclusters FROM clusters WHERE id = ?`, clusterID.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ClusterDocument{}, store.ErrNotFound
	}
	if err != nil {
		return store.ClusterDocument{}, fmt.Errorf("sqlitestore: get cluster %s: %w", clusterID, err)
	}
	var subs []store.SubclusterDocument
	if err := json.Unmarshal([]byte(body), &subs); err != nil {
		return store.ClusterDocument{}, fmt.Errorf("sqlitestore: decode cluster %s: %w", clusterID, err)
	}
	return store.ClusterDocument{ID: clusterID, Subclusters: subs}, nil
}

func (s *Store) Delete(ctx context.Context, clusterID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = ?`, clusterID.String()); err != nil {
		return fmt.Errorf("sqlitestore: delete cluster %s: %w", clusterID, err)
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]store.ClusterDocument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, subclusters FROM clusters ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list all: %w", err)
	}
	defer rows.Close()

	var out []store.ClusterDocument
	for rows.Next() {
		var idStr, body string
		if err := rows.Scan(&idStr, &body); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: parse id %q: %w", idStr, err)
		}
		var subs []store.SubclusterDocument
		if err := json.Unmarshal([]byte(body), &subs); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode cluster %s: %w", id, err)
		}
		out = append(out, store.ClusterDocument{ID: id, Subclusters: subs})
	}
	return out, rows.Err()
}

func (s *Store) InsertSubcluster(ctx context.Context, clusterID uuid.UUID, doc store.SubclusterDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal subcluster: %w", err)
	}
	const q = `UPDATE clusters SET subclusters = json_insert(subclusters, '$[#]', json(?)) WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, string(body), clusterID.String())
	if err != nil {
		return fmt.Errorf("sqlitestore: insert subcluster into cluster %s: %w", clusterID, err)
	}
	return requireOneRow(res, clusterID)
}

func (s *Store) ReplaceSubcluster(ctx context.Context, clusterID uuid.UUID, index int, doc store.SubclusterDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal subcluster: %w", err)
	}
	path := fmt.Sprintf("$[%d]", index)
	const q = `UPDATE clusters SET subclusters = json_replace(subclusters, ?, json(?)) WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, path, string(body), clusterID.String())
	if err != nil {
		return fmt.Errorf("sqlitestore: replace subcluster %d in cluster %s: %w", index, clusterID, err)
	}
	return requireOneRow(res, clusterID)
}

func (s *Store) RemoveSubcluster(ctx context.Context, clusterID uuid.UUID, index int) error {
	path := fmt.Sprintf("$[%d]", index)
	const q = `UPDATE clusters SET subclusters = json_remove(subclusters, ?) WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, path, clusterID.String())
	if err != nil {
		return fmt.Errorf("sqlitestore: remove subcluster %d from cluster %s: %w", index, clusterID, err)
	}
	return requireOneRow(res, clusterID)
}

func (s *Store) GetSubcluster(ctx context.Context, clusterID uuid.UUID, index int) (store.SubclusterDocument, error) {
	path := fmt.Sprintf("$[%d]", index)
	var body sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT json_extract(subclusters, ?) FROM clusters WHERE id = ?;`, path, clusterID.String(),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SubclusterDocument{}, fmt.Errorf("sqlitestore: get subcluster: cluster %s: %w", clusterID, store.ErrNotFound)
	}
	if err != nil {
		return store.SubclusterDocument{}, fmt.Errorf("sqlitestore: get subcluster %d from cluster %s: %w", index, clusterID, err)
	}
	if !body.Valid {
		return store.SubclusterDocument{}, fmt.Errorf("sqlitestore: get subcluster: index %d out of range for cluster %s: %w", index, clusterID, store.ErrNotFound)
	}
	var doc store.SubclusterDocument
	if err := json.Unmarshal([]byte(body.String), &doc); err != nil {
		return store.SubclusterDocument{}, fmt.Errorf("sqlitestore: decode subcluster %d of cluster %s: %w", index, clusterID, err)
	}
	return doc, nil
}

func (s *Store) Close() error { return s.db.Close() }

func requireOneRow(res sql.Result, clusterID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlitestore: cluster %s: %w", clusterID, store.ErrNotFound)
	}
	return nil
}
