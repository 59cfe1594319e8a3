package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	auditlog "bonecraft.ai/internal/persistence/log"
)

func auditCmd(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", envOr("BC_DATA", "./data"), "runtime data directory")
	since := fs.Duration("since", 24*time.Hour, "how far back to read")
	actor := fs.String("actor", "", "only entries by (or selling to) this user")
	kind := fs.String("kind", "", "SYNTH|LIST|BUY|BOT_LIST|BOT_BUY")
	_ = fs.Parse(args)

	entries, err := auditlog.ReadAudit(*dataDir, auditlog.AuditFilter{
		Since: time.Now().Add(-*since),
		Actor: *actor,
		Kind:  *kind,
	})
	if err != nil {
		return err
	}
	printAudit(os.Stdout, entries)
	return nil
}

func printAudit(w io.Writer, entries []auditlog.AuditEntry) {
	for _, e := range entries {
		at := e.At.UTC().Format(time.RFC3339)
		switch e.Kind {
		case auditlog.KindSynth:
			fmt.Fprintf(w, "%s %-8s %s %s -> %s (roll %d, fee %sg, synced=%t)\n",
				at, e.Kind, e.Actor, e.Item, e.Outcome, e.Roll, humanize.Comma(e.Fee), e.Synced)
		case auditlog.KindBuy, auditlog.KindBotBuy:
			fmt.Fprintf(w, "%s %-8s %s bought %dx %s from %s for %sg [%s]\n",
				at, e.Kind, e.Actor, e.Qty, e.Item, e.Seller, humanize.Comma(e.Price), e.ListingID)
		default:
			fmt.Fprintf(w, "%s %-8s %s listed %dx %s for %sg [%s]\n",
				at, e.Kind, e.Actor, e.Qty, e.Item, humanize.Comma(e.Price), e.ListingID)
		}
	}
	fmt.Fprintf(w, "%d audit entries\n", len(entries))
}
