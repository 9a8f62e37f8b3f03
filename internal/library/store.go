/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package library keeps the drawing catalogue and its checkpoints in SQLite (default) or
// PostgreSQL. It is a fetch/save store; nothing outside this package sees the schema.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	applog "excalidesk/internal/log"
)

// schemaVersion is bumped on breaking schema changes.
const schemaVersion = 1

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a drawing or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Drawing is one catalogued drawing file.
type Drawing struct {
	ID        string
	Name      string
	Path      string
	UpdatedAt time.Time
}

// Checkpoint is a saved copy of a drawing's file contents. Data is empty in listings.
type Checkpoint struct {
	ID        string
	DrawingID string
	CreatedAt time.Time
	Size      int64
	Data      []byte
}

// Store is the library database.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *slog.Logger
}

// Open connects to dsn: a postgres:// URL selects PostgreSQL through pgx, anything else is
// taken as an SQLite file path. The schema is created if missing.
func Open(ctx context.Context, dsn string) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("library"), "open")
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("library dsn is required")
	}
	s := &Store{log: applog.WithComponent("library")}
	var err error
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s.dialect = dialectPostgres
		s.db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create library dir: %w", err)
		}
		s.db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(dsn)))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.db.SetMaxOpenConns(1)
		s.db.SetMaxIdleConns(1)
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = s.db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
			l.Warn("enable foreign_keys failed", slog.Any("err", err))
		}
	}
	if err := s.migrate(ctx); err != nil {
		_ = s.db.Close()
		l.Error("library schema setup failed", slog.Any("err", err))
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == dialectPostgres {
		blob = "BYTEA"
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS drawings (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			path       TEXT NOT NULL UNIQUE,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id         TEXT PRIMARY KEY,
			drawing_id TEXT NOT NULL REFERENCES drawings(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			size       BIGINT NOT NULL,
			data       ` + blob + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS checkpoints_by_drawing ON checkpoints(drawing_id, created_at)`,
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	var v string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM meta WHERE key = ?`), "schema_version").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO meta(key, value) VALUES (?, ?)`),
			"schema_version", strconv.Itoa(schemaVersion))
		return err
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}
	if n, _ := strconv.Atoi(v); n > schemaVersion {
		return fmt.Errorf("library schema version %d is newer than supported %d", n, schemaVersion)
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}

// SaveDrawing inserts or updates d, keyed by ID. An empty ID is assigned.
func (s *Store) SaveDrawing(ctx context.Context, d *Drawing) error {
	if d == nil || strings.TrimSpace(d.Path) == "" {
		return errors.New("drawing path is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO drawings(id, name, path, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, path = excluded.path, updated_at = excluded.updated_at`),
		d.ID, d.Name, d.Path, formatTS(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save drawing %s: %w", d.ID, err)
	}
	return nil
}

// GetDrawing returns the drawing with id.
func (s *Store) GetDrawing(ctx context.Context, id string) (Drawing, error) {
	return s.scanDrawing(s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, path, updated_at FROM drawings WHERE id = ?`), id))
}

// DrawingByPath returns the drawing catalogued at path.
func (s *Store) DrawingByPath(ctx context.Context, path string) (Drawing, error) {
	return s.scanDrawing(s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, path, updated_at FROM drawings WHERE path = ?`), path))
}

func (s *Store) scanDrawing(row *sql.Row) (Drawing, error) {
	var d Drawing
	var ts string
	err := row.Scan(&d.ID, &d.Name, &d.Path, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Drawing{}, ErrNotFound
	}
	if err != nil {
		return Drawing{}, err
	}
	d.UpdatedAt = parseTS(ts)
	return d, nil
}

// ListDrawings returns all drawings, most recently updated first.
func (s *Store) ListDrawings(ctx context.Context) ([]Drawing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, path, updated_at FROM drawings ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Drawing
	for rows.Next() {
		var d Drawing
		var ts string
		if err := rows.Scan(&d.ID, &d.Name, &d.Path, &ts); err != nil {
			return nil, err
		}
		d.UpdatedAt = parseTS(ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveCheckpoint stores data as a new checkpoint of drawingID.
func (s *Store) SaveCheckpoint(ctx context.Context, drawingID string, data []byte, ts time.Time) (Checkpoint, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Checkpoint{}, err
	}
	if data == nil {
		data = []byte{}
	}
	cp := Checkpoint{ID: id.String(), DrawingID: drawingID, CreatedAt: ts.UTC(), Size: int64(len(data)), Data: data}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO checkpoints(id, drawing_id, created_at, size, data) VALUES (?, ?, ?, ?, ?)`),
		cp.ID, cp.DrawingID, formatTS(cp.CreatedAt), cp.Size, cp.Data)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("save checkpoint: %w", err)
	}
	return cp, nil
}

// GetCheckpoint returns the checkpoint with id, including its data.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	return s.scanCheckpoint(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, drawing_id, created_at, size, data FROM checkpoints WHERE id = ?`), id))
}

// LatestCheckpoint returns the newest checkpoint of drawingID, including its data.
func (s *Store) LatestCheckpoint(ctx context.Context, drawingID string) (Checkpoint, error) {
	return s.scanCheckpoint(s.db.QueryRowContext(ctx, s.rebind(`SELECT id, drawing_id, created_at, size, data
		FROM checkpoints WHERE drawing_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`), drawingID))
}

func (s *Store) scanCheckpoint(row *sql.Row) (Checkpoint, error) {
	var cp Checkpoint
	var ts string
	err := row.Scan(&cp.ID, &cp.DrawingID, &ts, &cp.Size, &cp.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}
	cp.CreatedAt = parseTS(ts)
	return cp, nil
}

// ListCheckpoints returns up to limit checkpoints of drawingID, newest first, without data.
func (s *Store) ListCheckpoints(ctx context.Context, drawingID string, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, drawing_id, created_at, size FROM checkpoints
		WHERE drawing_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`), drawingID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var ts string
		if err := rows.Scan(&cp.ID, &cp.DrawingID, &ts, &cp.Size); err != nil {
			return nil, err
		}
		cp.CreatedAt = parseTS(ts)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// PruneCheckpoints keeps the newest keep checkpoints of drawingID and deletes the rest.
func (s *Store) PruneCheckpoints(ctx context.Context, drawingID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM checkpoints WHERE drawing_id = ? AND id NOT IN (
		SELECT id FROM checkpoints WHERE drawing_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	)`), drawingID, drawingID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return res.RowsAffected()
}
