package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Memory is an in-process Store. Every operation runs under one mutex, so
// Take and Increment are trivially atomic.
type Memory struct {
	mu   sync.Mutex
	root any
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("get", path, err)
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := Lookup(m.root, segs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Decode(v, out)
}

func (m *Memory) Put(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("put", path, err)
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	tree, err := Normalize(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = Assign(m.root, segs, tree)
	return nil
}

func (m *Memory) Create(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("create", path, err)
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	tree, err := Normalize(v)
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("%w: create of empty value at %s", ErrBadPath, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := Lookup(m.root, segs); ok {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	m.root = Assign(m.root, segs, tree)
	return nil
}

func (m *Memory) Patch(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("patch", path, err)
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	root, err := Merge(m.root, segs, fields)
	if err != nil {
		return err
	}
	m.root = root
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("delete", path, err)
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = Remove(m.root, segs)
	return nil
}

func (m *Memory) Post(ctx context.Context, collection string, v any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Unavailable("post", collection, err)
	}
	segs, err := Split(collection)
	if err != nil {
		return "", err
	}
	tree, err := Normalize(v)
	if err != nil {
		return "", err
	}
	if tree == nil {
		return "", fmt.Errorf("%w: post of empty value to %s", ErrBadPath, collection)
	}
	id := NewID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = Assign(m.root, append(segs, id), tree)
	return id, nil
}

func (m *Memory) Take(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("take", path, err)
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := Lookup(m.root, segs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := Decode(v, out); err != nil {
		return err
	}
	m.root = Remove(m.root, segs)
	return nil
}

func (m *Memory) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Unavailable("increment", path, err)
	}
	segs, err := Split(path)
	if err != nil {
		return 0, err
	}
	if len(segs) < 3 {
		return 0, fmt.Errorf("%w: increment needs a field inside a document: %s", ErrBadPath, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := Lookup(m.root, segs[:2]); !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	cur, _ := Lookup(m.root, segs)
	n, err := Int64(cur)
	if err != nil {
		return 0, err
	}
	n += delta
	m.root = Assign(m.root, segs, json.Number(strconv.FormatInt(n, 10)))
	return n, nil
}
