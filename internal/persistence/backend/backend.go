// Package backend opens the document store named on the command line.
package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bonecraft.ai/internal/persistence/firebase"
	"bonecraft.ai/internal/persistence/sqldoc"
	"bonecraft.ai/internal/persistence/store"
)

// Kinds accepted by Open.
const (
	Memory   = "memory"
	SQLite   = "sqlite"
	Postgres = "postgres"
	Firebase = "firebase"
)

type Options struct {
	Kind         string
	DataDir      string
	SQLitePath   string
	PostgresDSN  string
	FirebaseURL  string
	FirebaseAuth string
	Timeout      time.Duration
}

// Opened is an open store plus, for the SQL kinds, the underlying sqldoc
// handle.
type Opened struct {
	store.Store
	SQL *sqldoc.Store
}

func (o *Opened) Close() error {
	if o.SQL != nil {
		return o.SQL.Close()
	}
	return nil
}

// Open builds the configured backend. Memory and SQL stores sit behind a
// per-call timeout; the Firebase client bounds calls with its HTTP client.
func Open(ctx context.Context, o Options) (*Opened, error) {
	switch strings.ToLower(strings.TrimSpace(o.Kind)) {
	case Memory:
		return &Opened{Store: store.WithTimeout(store.NewMemory(), o.Timeout)}, nil
	case "", SQLite:
		path := strings.TrimSpace(o.SQLitePath)
		if path == "" {
			path = filepath.Join(o.DataDir, "bonecraft.db")
		}
		s, err := sqldoc.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return &Opened{Store: store.WithTimeout(s, o.Timeout), SQL: s}, nil
	case Postgres:
		if strings.TrimSpace(o.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres store needs a DSN")
		}
		s, err := sqldoc.OpenPostgres(ctx, o.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &Opened{Store: store.WithTimeout(s, o.Timeout), SQL: s}, nil
	case Firebase:
		c, err := firebase.New(o.FirebaseURL, o.FirebaseAuth, o.Timeout)
		if err != nil {
			return nil, err
		}
		return &Opened{Store: c}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", o.Kind)
	}
}
