package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"momentum/internal/db"
	"momentum/internal/migrate"
)

// SQLite stores each collection in its own table of JSON documents.
type SQLite struct {
	Workspace string
	// SchemaVersion pins the migration target; 0 applies everything.
	SchemaVersion int

	mu   sync.Mutex
	conn *sql.DB
}

func NewSQLite(workspace string) *SQLite {
	return &SQLite{Workspace: workspace}
}

func (s *SQLite) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, err := db.Open(db.Config{Workspace: s.Workspace})
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	target := s.SchemaVersion
	if target == 0 {
		target = migrate.Latest
	}
	if err := migrate.MigrateTo(ctx, conn, target); err != nil {
		_ = conn.Close()
		return err
	}
	s.conn = conn
	return nil
}

func (s *SQLite) db(c Collection) (*sql.DB, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotOpen
	}
	return s.conn, nil
}

func (s *SQLite) Get(ctx context.Context, c Collection, key string) (json.RawMessage, error) {
	conn, err := s.db(c)
	if err != nil {
		return nil, err
	}
	var doc string
	err = conn.QueryRowContext(ctx, `SELECT doc FROM `+string(c)+` WHERE id=?`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapErr(c, err)
	}
	return json.RawMessage(doc), nil
}

func (s *SQLite) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	conn, err := s.db(c)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `SELECT id, doc FROM `+string(c)+` ORDER BY rowid`)
	if err != nil {
		return nil, mapErr(c, err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, err
		}
		res = append(res, Record{Key: key, Value: json.RawMessage(doc)})
	}
	return res, rows.Err()
}

func (s *SQLite) Add(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error) {
	conn, err := s.db(c)
	if err != nil {
		return "", err
	}
	if c.AutoKey() {
		res, err := conn.ExecContext(ctx, `INSERT INTO `+string(c)+`(doc) VALUES (?)`, string(value))
		if err != nil {
			return "", mapErr(c, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(id, 10), nil
	}
	res, err := conn.ExecContext(ctx, `INSERT INTO `+string(c)+`(id,doc) VALUES (?,?) ON CONFLICT(id) DO NOTHING`, key, string(value))
	if err != nil {
		return "", mapErr(c, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrExists
	}
	return key, nil
}

func (s *SQLite) Update(ctx context.Context, c Collection, key string, value json.RawMessage) error {
	conn, err := s.db(c)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `INSERT INTO `+string(c)+`(id,doc) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET doc=excluded.doc`, key, string(value))
	return mapErr(c, err)
}

func (s *SQLite) Delete(ctx context.Context, c Collection, key string) error {
	conn, err := s.db(c)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `DELETE FROM `+string(c)+` WHERE id=?`, key)
	return mapErr(c, err)
}

func (s *SQLite) Clear(ctx context.Context, c Collection) error {
	conn, err := s.db(c)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `DELETE FROM `+string(c))
	return mapErr(c, err)
}

func (s *SQLite) DeleteDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return err
		}
		s.conn = nil
	}
	path := db.Path(s.Workspace)
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func mapErr(c Collection, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%s: %w", c, ErrCollectionMissing)
	}
	return err
}
