package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"bonecraft.ai/internal/persistence/snapshot"
)

func exportCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	sf := addStoreFlags(fs)
	out := fs.String("out", "", "snapshot file (default: <data>/backups/<timestamp>.json.zst)")
	_ = fs.Parse(args)

	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()
	snap, err := snapshot.Capture(ctx, st, sf.kind, now)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = fmt.Sprintf("%s/backups/%s.json.zst", sf.dataDir, now.UTC().Format("20060102T150405Z"))
	}
	if err := snapshot.Write(path, snap); err != nil {
		return err
	}
	printHeader(os.Stdout, path, snap.Header)
	return nil
}

func importCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	sf := addStoreFlags(fs)
	in := fs.String("in", "", "snapshot file written by export")
	overwrite := fs.Bool("overwrite", false, "replace documents that already exist")
	_ = fs.Parse(args)
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	snap, err := snapshot.Read(*in)
	if err != nil {
		return err
	}
	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	printHeader(os.Stdout, *in, snap.Header)
	stats, err := snapshot.Restore(ctx, st, snap, *overwrite)
	if err != nil {
		return err
	}
	fmt.Printf("restored %d documents, skipped %d existing\n", stats.Written, stats.Skipped)
	return nil
}

func printHeader(w io.Writer, path string, h snapshot.Header) {
	src := h.Source
	if src == "" {
		src = "unknown"
	}
	fmt.Fprintf(w, "%s: v%d, %s documents from %s store, taken %s\n",
		path, h.Version, humanize.Comma(int64(h.Docs)), src, humanize.Time(h.Taken))
}
