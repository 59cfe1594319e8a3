package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// AuditFilter selects entries for ReadAudit. Zero fields match everything.
type AuditFilter struct {
	Since time.Time
	Until time.Time
	Actor string
	Kind  string
}

func (f AuditFilter) match(e AuditEntry) bool {
	switch {
	case !f.Since.IsZero() && e.At.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.At.After(f.Until):
		return false
	case f.Actor != "" && e.Actor != f.Actor && e.Seller != f.Actor:
		return false
	case f.Kind != "" && !strings.EqualFold(e.Kind, f.Kind):
		return false
	}
	return true
}

// ReadAudit scans the hourly audit files under dataDir/audit in order and
// returns the matching entries, oldest first.
func ReadAudit(dataDir string, f AuditFilter) ([]AuditEntry, error) {
	dir := filepath.Join(dataDir, "audit")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "audit-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		if !f.Since.IsZero() {
			hour := strings.TrimSuffix(strings.TrimPrefix(name, "audit-"), ".jsonl.zst")
			if t, err := time.Parse("2006-01-02-15", hour); err == nil && t.Add(time.Hour).Before(f.Since) {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var out []AuditEntry
	for _, name := range names {
		got, err := readAuditFile(filepath.Join(dir, name), f)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

func readAuditFile(path string, f AuditFilter) ([]AuditEntry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	dec, err := zstd.NewReader(fh)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}
