// Package store is the path-addressed document store the game persists to.
//
// Paths are "/"-separated and relative ("users/alice/data/currency"). The
// first segment names a collection and the first two segments name a
// document; deeper segments address JSON children inside that document.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports that nothing exists at the path. Take returns it to
	// every caller but the one that removed the value.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable wraps network, timeout and backend failures.
	ErrUnavailable = errors.New("store: unavailable")
	ErrBadPath     = errors.New("store: bad path")
	// ErrExists reports that Create found a value already at the path.
	ErrExists = errors.New("store: already exists")
)

type Store interface {
	// Get decodes the value at path into out.
	Get(ctx context.Context, path string, out any) error
	// Put replaces the value at path. A nil value deletes it.
	Put(ctx context.Context, path string, v any) error
	// Create stores v at path only if nothing is there yet. Of several
	// concurrent creators exactly one succeeds; the rest get ErrExists.
	Create(ctx context.Context, path string, v any) error
	// Patch merges fields into the object at path; nil fields are removed.
	Patch(ctx context.Context, path string, fields map[string]any) error
	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
	// Post appends v under collection with a new time-ordered id.
	Post(ctx context.Context, collection string, v any) (string, error)
	// Take atomically reads and removes the value at path.
	Take(ctx context.Context, path string, out any) error
	// Increment atomically adds delta to the integer at path and returns the
	// new value. A missing leaf counts as zero; a missing document is
	// ErrNotFound.
	Increment(ctx context.Context, path string, delta int64) (int64, error)
}

// NewID returns a UUIDv7 string, so ids sort roughly by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Unavailable wraps err as ErrUnavailable unless it already carries a store
// sentinel.
func Unavailable(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadPath) || errors.Is(err, ErrExists) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, path, err)
}

// WithTimeout bounds every call on s to d. Calls that hit the deadline fail
// with ErrUnavailable.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, d: d}
}

type timeoutStore struct {
	next Store
	d    time.Duration
}

func (t *timeoutStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.d)
}

func (t *timeoutStore) wrap(op, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Unavailable(op, path, err)
	}
	return err
}

func (t *timeoutStore) Get(ctx context.Context, path string, out any) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap("get", path, t.next.Get(ctx, path, out))
}

func (t *timeoutStore) Put(ctx context.Context, path string, v any) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap("put", path, t.next.Put(ctx, path, v))
}

func (t *timeoutStore) Create(ctx context.Context, path string, v any) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap("create", path, t.next.Create(ctx, path, v))
}

func (t *timeoutStore) Patch(ctx context.Context, path string, fields map[string]any) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap("patch", path, t.next.Patch(ctx, path, fields))
}

func (t *timeoutStore) Delete(ctx context.Context, path string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap("delete", path, t.next.Delete(ctx, path))
}

func (t *timeoutStore) Post(ctx context.Context, collection string, v any) (string, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	id, err := t.next.Post(ctx, collection, v)
	return id, t.wrap("post", collection, err)
}

func (t *timeoutStore) Take(ctx context.Context, path string, out any) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap("take", path, t.next.Take(ctx, path, out))
}

func (t *timeoutStore) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	n, err := t.next.Increment(ctx, path, delta)
	return n, t.wrap("increment", path, err)
}
