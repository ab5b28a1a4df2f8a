package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/pairview/watchparty/internal/domain"
)

// SQLiteStore keeps each party as a versioned JSON document. The version
// column carries the compare-and-swap token; sqlite serializes the UPDATE,
// which is all the atomicity the coordinator relies on.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.EnsureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSchema() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: missing database connection")
	}
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS parties (
			code       TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			active     INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			doc        TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, p *domain.Party) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: missing database connection")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode party: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parties (code, version, active, created_at, doc)
		VALUES (?, 1, ?, ?, ?)
	`, string(p.Code), boolToInt(p.Active), p.CreatedAt.Unix(), string(doc))
	if err != nil {
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parties WHERE code = ?`, string(p.Code))
		if scanErr := row.Scan(&exists); scanErr == nil && exists > 0 {
			return ErrExists
		}
		return fmt.Errorf("insert party: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, code domain.PartyCode) (*Versioned, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: missing database connection")
	}
	var (
		version int64
		doc     string
	)
	row := s.db.QueryRowContext(ctx, `SELECT version, doc FROM parties WHERE code = ?`, string(code))
	if err := row.Scan(&version, &doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load party: %w", err)
	}
	var p domain.Party
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode party %s: %w", code, err)
	}
	return &Versioned{Party: p, Version: version}, nil
}

func (s *SQLiteStore) CompareAndSwap(ctx context.Context, code domain.PartyCode, expected int64, p *domain.Party) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: missing database connection")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode party: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE parties
		SET version = version + 1, active = ?, doc = ?
		WHERE code = ? AND version = ?
	`, boolToInt(p.Active), string(doc), string(code), expected)
	if err != nil {
		return fmt.Errorf("update party: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update party: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parties WHERE code = ?`, string(code))
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("update party: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *SQLiteStore) ListActiveByMember(ctx context.Context, uid domain.UserID) ([]Versioned, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: missing database connection")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT version, doc FROM parties WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	var out []Versioned
	for rows.Next() {
		var (
			version int64
			doc     string
		)
		if err := rows.Scan(&version, &doc); err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		var p domain.Party
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decode party: %w", err)
		}
		if p.IsMember(uid) {
			out = append(out, Versioned{Party: p, Version: version})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Party.CreatedAt.After(out[j].Party.CreatedAt)
	})
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
