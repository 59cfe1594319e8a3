package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []AuditEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestAuditLogger_WritesHourlyFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	require.NoError(t, l.WriteAudit(AuditEntry{Kind: KindSynth, Actor: "alice", Item: "Bone Hairpin", Outcome: "BREAK", Roll: 5, Fee: 10, Synced: true}))
	require.NoError(t, l.WriteAudit(AuditEntry{Kind: KindList, Actor: "alice", Item: "Bone Chip", Qty: 12, Price: 1200, Synced: true}))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, l.WriteAudit(AuditEntry{Kind: KindBotBuy, Actor: "GilBuyer", ListingID: "L1", Seller: "alice"}))
	require.NoError(t, l.Close())

	first := readEntries(t, filepath.Join(dir, "audit", "audit-2026-03-01-10.jsonl.zst"))
	require.Len(t, first, 2)
	assert.Equal(t, "BREAK", first[0].Outcome)
	assert.Equal(t, 5, first[0].Roll)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC), first[0].At)
	assert.Equal(t, int64(1200), first[1].Price)

	second := readEntries(t, filepath.Join(dir, "audit", "audit-2026-03-01-11.jsonl.zst"))
	require.Len(t, second, 1)
	assert.Equal(t, KindBotBuy, second[0].Kind)
}

func TestAuditLogger_CloseWithoutWrites(t *testing.T) {
	l := NewAuditLogger(t.TempDir())
	assert.NoError(t, l.Close())
	assert.NoError(t, Nop{}.WriteAudit(AuditEntry{}))
}

func TestReadAudit_FiltersAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	clock := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	require.NoError(t, l.WriteAudit(AuditEntry{Kind: KindSynth, Actor: "alice"}))
	clock = clock.Add(time.Hour)
	require.NoError(t, l.WriteAudit(AuditEntry{Kind: KindList, Actor: "bob", ListingID: "L1"}))
	require.NoError(t, l.WriteAudit(AuditEntry{Kind: KindBuy, Actor: "carol", Seller: "bob", ListingID: "L1"}))
	clock = clock.Add(time.Hour)
	require.NoError(t, l.WriteAudit(AuditEntry{Kind: KindBotList, Actor: "GilBuyer"}))
	require.NoError(t, l.Close())

	all, err := ReadAudit(dir, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "alice", all[0].Actor)
	assert.Equal(t, "GilBuyer", all[3].Actor)

	bob, err := ReadAudit(dir, AuditFilter{Actor: "bob"})
	require.NoError(t, err)
	assert.Len(t, bob, 2)

	recent, err := ReadAudit(dir, AuditFilter{Since: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), Kind: "buy"})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "carol", recent[0].Actor)

	_, err = ReadAudit(t.TempDir(), AuditFilter{})
	assert.Error(t, err)
}
