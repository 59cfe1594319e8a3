package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditlog "bonecraft.ai/internal/persistence/log"
	"bonecraft.ai/internal/persistence/snapshot"
	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/ledger"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestPrintListings(t *testing.T) {
	ls := []protocol.Listing{
		{ID: "L2", Item: "Bone Chip", Price: 1200, Qty: 12, Seller: "alice", Time: now.Add(-2 * time.Hour)},
		{ID: "L1", Item: "Titanictus Shell", Price: 30000, Qty: 1, Seller: "GilBuyer", Time: now.Add(-3 * 24 * time.Hour)},
	}
	fair := func(item string) int64 { return map[string]int64{"Bone Chip": 100}[item] }

	var buf bytes.Buffer
	printListings(&buf, ls, 1, fair, now)
	out := buf.String()
	assert.Contains(t, out, "L2")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "2 hours ago")
	assert.NotContains(t, out, "L1")
	assert.Contains(t, out, "2 listing(s)")

	assert.Len(t, filterSeller(ls, "alice"), 1)
}

func TestPurge_OnlyOldEligible(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	put := func(id, seller string, at time.Time) protocol.Listing {
		require.NoError(t, st.Put(ctx, "auction_house/"+id, map[string]any{"item": "Bone Chip", "price": 100, "qty": 1, "seller": seller, "time": at.Format(time.RFC3339Nano)}))
		return protocol.Listing{ID: id, Item: "Bone Chip", Qty: 1, Seller: seller, Time: at}
	}
	ls := []protocol.Listing{
		put("old-bot", "GilBuyer", now.Add(-100*time.Hour)),
		put("old-player", "alice", now.Add(-100*time.Hour)),
		put("new-bot", "GilBuyer", now.Add(-time.Hour)),
		{ID: "vanished", Item: "Bone Chip", Qty: 1, Seller: "GilBuyer", Time: now.Add(-200 * time.Hour)},
	}
	bots := func(s string) bool { return s == "GilBuyer" }
	cutoff := now.Add(-72 * time.Hour)

	var buf bytes.Buffer
	n, err := purge(ctx, st, ls, cutoff, bots, true, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = purge(ctx, st, ls, cutoff, bots, false, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var left map[string]any
	require.NoError(t, st.Get(ctx, "auction_house", &left))
	assert.Len(t, left, 2)
	assert.Contains(t, left, "old-player")
}

func TestPrintUsers(t *testing.T) {
	l := ledger.New(12345, map[string]int{"Bone Chip": 3, "Seashell": 2})
	l.LastActive = now.Add(-time.Minute).Unix()
	rows := []userRow{{Name: "alice", Data: l}, {Name: "ghost"}}

	var buf bytes.Buffer
	printUsers(&buf, rows, now)
	out := buf.String()
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "1 minute ago")
	assert.Contains(t, out, "ghost")
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	printAudit(&buf, []auditlog.AuditEntry{
		{At: now, Kind: auditlog.KindSynth, Actor: "alice", Item: "Bone Hairpin", Outcome: "BREAK", Roll: 5, Fee: 10, Synced: true},
		{At: now, Kind: auditlog.KindBuy, Actor: "bob", Item: "Bone Chip", Qty: 12, Price: 1200, Seller: "alice", ListingID: "L1"},
		{At: now, Kind: auditlog.KindBotList, Actor: "GilBuyer", Item: "Seashell", Qty: 6, Price: 2400, ListingID: "L2"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "alice Bone Hairpin -> BREAK (roll 5, fee 10g, synced=true)")
	assert.Contains(t, lines[1], "bob bought 12x Bone Chip from alice for 1,200g [L1]")
	assert.Contains(t, lines[2], "GilBuyer listed 6x Seashell for 2,400g [L2]")
	assert.Equal(t, "3 audit entries", lines[3])
}

func TestPrintGameMetrics(t *testing.T) {
	in := strings.Join([]string{
		"# HELP bonecraft_synth_attempts_total Synthesis attempts by outcome.",
		`bonecraft_synth_attempts_total{outcome="BREAK"} 2`,
		`bonecraft_http_request_duration_seconds_bucket{le="0.01"} 1`,
		"go_goroutines 12",
	}, "\n")
	var buf bytes.Buffer
	require.NoError(t, printGameMetrics(&buf, strings.NewReader(in)))
	assert.Equal(t, `bonecraft_synth_attempts_total{outcome="BREAK"} 2`+"\n", buf.String())
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	printHeader(&buf, "snap.json.zst", snapshot.Header{Version: 1, Docs: 1234, Taken: time.Now().Add(-time.Hour)})
	out := buf.String()
	assert.Contains(t, out, "v1, 1,234 documents from unknown store")
	assert.Contains(t, out, "1 hour ago")
}
