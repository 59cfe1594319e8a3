// Package sqldoc stores the document tree in one SQL table, one row per
// top-level document.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"bonecraft.ai/internal/persistence/store"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Store struct {
	dialect Dialect
	db      *sql.DB
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := New(db, DialectSQLite)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(8)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	s := New(db, DialectPostgres)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Callers that did not come through an Open
// function must call Migrate before use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{dialect: dialect, db: db, now: time.Now}
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

const schemaDocs = `CREATE TABLE IF NOT EXISTS docs (collection TEXT NOT NULL, id TEXT NOT NULL, body TEXT NOT NULL, updated_at TEXT NOT NULL, PRIMARY KEY (collection, id))`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDocs); err != nil {
		return fmt.Errorf("create docs: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for the dialect.
func (s *Store) rebind(q string) string {
	if s.dialect != DialectPostgres {
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

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, ex execer, collection, id string, tree any) error {
	body, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	q := s.rebind(`INSERT INTO docs (collection, id, body, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`)
	_, err = ex.ExecContext(ctx, q, collection, id, string(body), s.stamp())
	return err
}

func (s *Store) deleteRow(ctx context.Context, ex execer, collection, id string) error {
	_, err := ex.ExecContext(ctx, s.rebind(`DELETE FROM docs WHERE collection = ? AND id = ?`), collection, id)
	return err
}

func (s *Store) Get(ctx context.Context, path string, out any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	if len(segs) == 1 {
		tree, err := s.collection(ctx, segs[0])
		if err != nil {
			return store.Unavailable("get", path, err)
		}
		if tree == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		return store.Decode(tree, out)
	}

	var body string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM docs WHERE collection = ? AND id = ?`), segs[0], segs[1]).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return store.Unavailable("get", path, err)
	}
	tree, err := store.Parse([]byte(body))
	if err != nil {
		return fmt.Errorf("decode %s/%s: %w", segs[0], segs[1], err)
	}
	v, ok := store.Lookup(tree, segs[2:])
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	return store.Decode(v, out)
}

func (s *Store) collection(ctx context.Context, collection string) (any, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, body FROM docs WHERE collection = ?`), collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]any{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		tree, err := store.Parse([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		if tree != nil {
			out[id] = tree
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, path string, v any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	tree, err := store.Normalize(v)
	if err != nil {
		return err
	}
	switch len(segs) {
	case 1:
		return s.inTx(ctx, "put", path, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM docs WHERE collection = ?`), segs[0]); err != nil {
				return err
			}
			if tree == nil {
				return nil
			}
			children, ok := tree.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: collection %s must hold an object", store.ErrBadPath, segs[0])
			}
			for id, child := range children {
				if err := s.upsert(ctx, tx, segs[0], id, child); err != nil {
					return err
				}
			}
			return nil
		})
	case 2:
		if tree == nil {
			err = s.deleteRow(ctx, s.db, segs[0], segs[1])
		} else {
			err = s.upsert(ctx, s.db, segs[0], segs[1], tree)
		}
		return store.Unavailable("put", path, err)
	default:
		return s.mutate(ctx, "put", path, segs, true, func(doc any) (any, error) {
			return store.Assign(doc, segs[2:], tree), nil
		})
	}
}

func (s *Store) Create(ctx context.Context, path string, v any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	tree, err := store.Normalize(v)
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("%w: create of empty value at %s", store.ErrBadPath, path)
	}
	switch len(segs) {
	case 1:
		return fmt.Errorf("%w: create of a whole collection: %s", store.ErrBadPath, path)
	case 2:
		body, err := json.Marshal(tree)
		if err != nil {
			return err
		}
		q := s.rebind(`INSERT INTO docs (collection, id, body, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (collection, id) DO NOTHING`)
		res, err := s.db.ExecContext(ctx, q, segs[0], segs[1], string(body), s.stamp())
		if err != nil {
			return store.Unavailable("create", path, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return store.Unavailable("create", path, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", store.ErrExists, path)
		}
		return nil
	default:
		return s.mutate(ctx, "create", path, segs, true, func(doc any) (any, error) {
			if _, ok := store.Lookup(doc, segs[2:]); ok {
				return nil, fmt.Errorf("%w: %s", store.ErrExists, path)
			}
			return store.Assign(doc, segs[2:], tree), nil
		})
	}
}

func (s *Store) Patch(ctx context.Context, path string, fields map[string]any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	if len(segs) == 1 {
		return s.inTx(ctx, "patch", path, func(tx *sql.Tx) error {
			for id, raw := range fields {
				if id == "" || strings.Contains(id, "/") {
					return fmt.Errorf("%w: patch key %q", store.ErrBadPath, id)
				}
				tree, err := store.Normalize(raw)
				if err != nil {
					return err
				}
				if tree == nil {
					err = s.deleteRow(ctx, tx, segs[0], id)
				} else {
					err = s.upsert(ctx, tx, segs[0], id, tree)
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return s.mutate(ctx, "patch", path, segs, true, func(doc any) (any, error) {
		return store.Merge(doc, segs[2:], fields)
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	switch len(segs) {
	case 1:
		_, err = s.db.ExecContext(ctx, s.rebind(`DELETE FROM docs WHERE collection = ?`), segs[0])
		return store.Unavailable("delete", path, err)
	case 2:
		return store.Unavailable("delete", path, s.deleteRow(ctx, s.db, segs[0], segs[1]))
	default:
		err := s.mutate(ctx, "delete", path, segs, false, func(doc any) (any, error) {
			return store.Remove(doc, segs[2:]), nil
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
}

func (s *Store) Post(ctx context.Context, collection string, v any) (string, error) {
	segs, err := store.Split(collection)
	if err != nil {
		return "", err
	}
	tree, err := store.Normalize(v)
	if err != nil {
		return "", err
	}
	if tree == nil {
		return "", fmt.Errorf("%w: post of empty value to %s", store.ErrBadPath, collection)
	}
	id := store.NewID()
	if len(segs) == 1 {
		return id, store.Unavailable("post", collection, s.upsert(ctx, s.db, segs[0], id, tree))
	}
	full := append(segs, id)
	err = s.mutate(ctx, "post", collection, full, true, func(doc any) (any, error) {
		return store.Assign(doc, full[2:], tree), nil
	})
	return id, err
}

func (s *Store) Take(ctx context.Context, path string, out any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	switch len(segs) {
	case 1:
		return fmt.Errorf("%w: take of a whole collection: %s", store.ErrBadPath, path)
	case 2:
		var body string
		err := s.db.QueryRowContext(ctx, s.rebind(`DELETE FROM docs WHERE collection = ? AND id = ? RETURNING body`), segs[0], segs[1]).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		if err != nil {
			return store.Unavailable("take", path, err)
		}
		tree, err := store.Parse([]byte(body))
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return store.Decode(tree, out)
	default:
		return s.mutate(ctx, "take", path, segs, false, func(doc any) (any, error) {
			v, ok := store.Lookup(doc, segs[2:])
			if !ok {
				return nil, fmt.Errorf("%w: %s", store.ErrNotFound, path)
			}
			if err := store.Decode(v, out); err != nil {
				return nil, err
			}
			return store.Remove(doc, segs[2:]), nil
		})
	}
}

func (s *Store) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	segs, err := store.Split(path)
	if err != nil {
		return 0, err
	}
	if len(segs) < 3 {
		return 0, fmt.Errorf("%w: increment needs a field inside a document: %s", store.ErrBadPath, path)
	}
	var n int64
	err = s.mutate(ctx, "increment", path, segs, false, func(doc any) (any, error) {
		cur, _ := store.Lookup(doc, segs[2:])
		v, err := store.Int64(cur)
		if err != nil {
			return nil, err
		}
		n = v + delta
		return store.Assign(doc, segs[2:], json.Number(strconv.FormatInt(n, 10))), nil
	})
	return n, err
}

// mutate rewrites the document anchoring segs inside a transaction. With
// createMissing unset a missing document is ErrNotFound. A nil result
// deletes the row.
func (s *Store) mutate(ctx context.Context, op, path string, segs []string, createMissing bool, fn func(doc any) (any, error)) error {
	collection, id := segs[0], segs[1]
	return s.inTx(ctx, op, path, func(tx *sql.Tx) error {
		q := `SELECT body FROM docs WHERE collection = ? AND id = ?`
		if s.dialect == DialectPostgres {
			q += ` FOR UPDATE`
		}
		var doc any
		var body string
		err := tx.QueryRowContext(ctx, s.rebind(q), collection, id).Scan(&body)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if !createMissing {
				return fmt.Errorf("%w: %s", store.ErrNotFound, path)
			}
		case err != nil:
			return err
		default:
			if doc, err = store.Parse([]byte(body)); err != nil {
				return fmt.Errorf("decode %s/%s: %w", collection, id, err)
			}
		}

		next, err := fn(doc)
		if err != nil {
			return err
		}
		if next == nil {
			return s.deleteRow(ctx, tx, collection, id)
		}
		return s.upsert(ctx, tx, collection, id, next)
	})
}

func (s *Store) inTx(ctx context.Context, op, path string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable(op, path, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return store.Unavailable(op, path, err)
	}
	if err := tx.Commit(); err != nil {
		return store.Unavailable(op, path, err)
	}
	return nil
}

// Counts reports the number of documents per collection.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT collection, COUNT(1) FROM docs GROUP BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, err
		}
		out[c] = n
	}
	return out, rows.Err()
}
