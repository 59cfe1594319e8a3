// Package snapshot dumps and restores the document store as a single
// zstd-compressed file, for backups and for moving between backends.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"bonecraft.ai/internal/persistence/store"
)

const Version = 1

// Collections are the top-level store collections a snapshot carries.
var Collections = []string{"users", "auction_house"}

type Header struct {
	Version int       `json:"version"`
	Taken   time.Time `json:"taken"`
	Source  string    `json:"source,omitempty"`
	Docs    int       `json:"docs"`
}

// Snapshot maps collection -> document id -> raw document body.
type Snapshot struct {
	Header Header                                `json:"header"`
	Docs   map[string]map[string]json.RawMessage `json:"docs"`
}

// Capture reads every known collection from st. A missing collection is
// recorded as empty.
func Capture(ctx context.Context, st store.Store, source string, now time.Time) (Snapshot, error) {
	snap := Snapshot{
		Header: Header{Version: Version, Taken: now.UTC(), Source: source},
		Docs:   make(map[string]map[string]json.RawMessage, len(Collections)),
	}
	for _, c := range Collections {
		docs := map[string]json.RawMessage{}
		if err := st.Get(ctx, c, &docs); err != nil && !errors.Is(err, store.ErrNotFound) {
			return snap, fmt.Errorf("capture %s: %w", c, err)
		}
		snap.Docs[c] = docs
		snap.Header.Docs += len(docs)
	}
	return snap, nil
}

// RestoreStats counts what Restore did.
type RestoreStats struct {
	Written int
	Skipped int
}

// Restore writes every document of snap into st. Existing documents are
// skipped unless overwrite is set.
func Restore(ctx context.Context, st store.Store, snap Snapshot, overwrite bool) (RestoreStats, error) {
	var stats RestoreStats
	if snap.Header.Version != Version {
		return stats, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	for _, c := range sortedKeys(snap.Docs) {
		docs := snap.Docs[c]
		for _, id := range sortedKeys(docs) {
			path := c + "/" + id
			if !overwrite {
				err := st.Create(ctx, path, docs[id])
				if errors.Is(err, store.ErrExists) {
					stats.Skipped++
					continue
				}
				if err != nil {
					return stats, fmt.Errorf("restore %s: %w", path, err)
				}
			} else if err := st.Put(ctx, path, docs[id]); err != nil {
				return stats, fmt.Errorf("restore %s: %w", path, err)
			}
			stats.Written++
		}
	}
	return stats, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Write stores snap as a JSON header line followed by the JSON body, all
// inside one zstd frame.
func Write(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(snap.Docs); err != nil {
		return fmt.Errorf("encode docs: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func Read(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &snap.Header); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if err := json.NewDecoder(br).Decode(&snap.Docs); err != nil {
		return snap, fmt.Errorf("decode docs: %w", err)
	}
	return snap, nil
}
