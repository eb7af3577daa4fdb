package board

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore persists documents in a sqlite database, keeping the current
// row per canvas plus an append-only snapshot history. Sqlite has no push
// channel, so Watch fans out in-process only: all sessions must share the one
// server process for replication to reach them.
type SqliteStore struct {
	db       *sql.DB
	notifier *notifier
	now      func() time.Time
}

var _ Store = (*SqliteStore)(nil)

// Snapshot is one historical write of a canvas.
type Snapshot struct {
	ID        string
	CanvasID  string
	Data      string
	CreatedAt time.Time
}

func OpenSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &SqliteStore{db: db, notifier: newNotifier(), now: time.Now}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) init() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS canvases (
		id text not null primary key,
		data text not null,
		created_at timestamp not null,
		updated_at timestamp not null,
		view_only integer not null default 0
		)`,
	); err != nil {
		return fmt.Errorf("failed to create canvases table: %w", err)
	}
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS snapshots (
		id text not null primary key,
		canvas_id text not null,
		data text not null,
		created_at timestamp not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return nil
}

func (s *SqliteStore) Get(ctx context.Context, id string) (Document, error) {
	doc := Document{ID: id}
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT data, created_at, updated_at, view_only FROM canvases WHERE id = ?`,
		id,
	).Scan(&doc.Data, &doc.CreatedAt, &doc.UpdatedAt, &doc.ViewOnly); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to query canvas: %w", err)
	}
	return doc, nil
}

func (s *SqliteStore) Create(ctx context.Context, doc Document) (Document, error) {
	now := s.now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return Document{}, fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// INSERT OR REPLACE keeps create-if-absent racers on last-write-wins
	// semantics rather than failing one of them.
	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO canvases (id, data, created_at, updated_at, view_only) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Data, doc.CreatedAt, doc.UpdatedAt, doc.ViewOnly,
	); err != nil {
		return Document{}, fmt.Errorf("failed to insert canvas: %w", err)
	}
	if err := s.insertSnapshot(ctx, tx, doc); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("failed to commit: %w", err)
	}
	s.notifier.notify(doc)
	return doc, nil
}

func (s *SqliteStore) Put(ctx context.Context, id string, data string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return Document{}, fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	doc := Document{ID: id}
	if err := tx.QueryRowContext(
		ctx,
		`SELECT created_at, view_only FROM canvases WHERE id = ?`,
		id,
	).Scan(&doc.CreatedAt, &doc.ViewOnly); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to query canvas: %w", err)
	}
	doc.Data = data
	doc.UpdatedAt = s.now().UTC()

	if res, err := tx.ExecContext(
		ctx,
		`UPDATE canvases SET data = ?, updated_at = ? WHERE id = ?`,
		doc.Data, doc.UpdatedAt, id,
	); err != nil {
		return Document{}, fmt.Errorf("failed to update canvas: %w", err)
	} else if r, err := res.RowsAffected(); err != nil {
		return Document{}, fmt.Errorf("failed to count rows affected by update: %w", err)
	} else if r == 0 {
		return Document{}, ErrNotFound
	}
	if err := s.insertSnapshot(ctx, tx, doc); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("failed to commit: %w", err)
	}
	s.notifier.notify(doc)
	return doc, nil
}

func (s *SqliteStore) insertSnapshot(ctx context.Context, tx *sql.Tx, doc Document) error {
	snapshotId := fmt.Sprintf("%d-%s", s.now().UTC().UnixNano(), doc.ID)
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO snapshots (id, canvas_id, data, created_at) VALUES (?, ?, ?, ?)`,
		snapshotId, doc.ID, doc.Data, doc.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func (s *SqliteStore) Watch(_ context.Context, id string, fn func(Document)) (func(), error) {
	return s.notifier.add(id, fn), nil
}

// Canvases lists the ids of all stored canvases, oldest first.
func (s *SqliteStore) Canvases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM canvases ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query canvases: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// History returns the snapshot rows for one canvas in write order.
func (s *SqliteStore) History(ctx context.Context, id string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, canvas_id, data, created_at FROM snapshots WHERE canvas_id = ? ORDER BY created_at, id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	var snapshots []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.ID, &sn.CanvasID, &sn.Data, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		snapshots = append(snapshots, sn)
	}
	return snapshots, rows.Err()
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}
