package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadPath)
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
	}
	return segs, nil
}

// Normalize converts v into the generic JSON tree the stores hold:
// map[string]any, []any, string, bool, json.Number or nil. Empty objects
// normalize to nil.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes raw JSON into a normalized tree.
func Parse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

// prune drops nil children and empty objects.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, c := range m {
		if c = prune(c); c == nil {
			delete(m, k)
		} else {
			m[k] = c
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Decode copies a normalized tree into out.
func Decode(v any, out any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Lookup walks segs from root.
func Lookup(root any, segs []string) (any, bool) {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[s]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// Assign sets segs to v below root and returns the new root. Intermediate
// objects are created as needed; a non-object in the way is replaced.
// Assigning nil removes the path.
func Assign(root any, segs []string, v any) any {
	if v == nil {
		return Remove(root, segs)
	}
	if len(segs) == 0 {
		return v
	}
	m, ok := root.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	m[segs[0]] = Assign(m[segs[0]], segs[1:], v)
	return m
}

// Remove deletes segs below root and prunes objects left empty. It returns
// the new root, which is nil when nothing remains.
func Remove(root any, segs []string) any {
	if len(segs) == 0 {
		return nil
	}
	m, ok := root.(map[string]any)
	if !ok {
		return root
	}
	child, ok := m[segs[0]]
	if !ok {
		return m
	}
	if rest := Remove(child, segs[1:]); rest == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = rest
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Merge applies a Patch to the object at segs.
func Merge(root any, segs []string, fields map[string]any) (any, error) {
	for k, raw := range fields {
		sub, err := Split(k)
		if err != nil || len(sub) != 1 {
			return root, fmt.Errorf("%w: patch key %q", ErrBadPath, k)
		}
		v, err := Normalize(raw)
		if err != nil {
			return root, err
		}
		root = Assign(root, append(append([]string(nil), segs...), k), v)
	}
	return root, nil
}

// Int64 reads an integer leaf. A nil leaf is zero.
func Int64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("store: %v is not an integer", v)
		}
		return int64(f), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("store: %v is not an integer", v)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("store: %T is not an integer", v)
	}
}
