package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/market"
)

func listingsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("listings", flag.ExitOnError)
	sf := addStoreFlags(fs)
	limit := fs.Int("limit", 50, "max listings to print (0 = all)")
	seller := fs.String("seller", "", "only this seller's listings")
	_ = fs.Parse(args)

	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cats, err := sf.catalogs()
	if err != nil {
		return err
	}
	m := market.New(market.Config{Store: st, Catalogs: cats})
	ls, err := m.FetchAll(ctx)
	if err != nil {
		return err
	}
	if *seller != "" {
		ls = filterSeller(ls, *seller)
	}
	printListings(os.Stdout, ls, *limit, m.FairUnitValue, time.Now())
	return nil
}

func filterSeller(ls []protocol.Listing, seller string) []protocol.Listing {
	out := ls[:0:0]
	for _, l := range ls {
		if l.Seller == seller {
			out = append(out, l)
		}
	}
	return out
}

func printListings(w io.Writer, ls []protocol.Listing, limit int, fair func(string) int64, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tITEM\tQTY\tPRICE\tUNIT\tFAIR\tSELLER\tLISTED")
	for i, l := range ls {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Item, l.Qty,
			humanize.Comma(l.Price),
			humanize.CommafWithDigits(l.UnitPrice(), 1),
			humanize.Comma(fair(l.Item)),
			l.Seller,
			humanize.RelTime(l.Time, now, "ago", "from now"))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d listing(s)\n", len(ls))
}

// purgeCmd removes listings older than -older. Each removal is a Take, so
// a listing bought concurrently is simply skipped.
func purgeCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	sf := addStoreFlags(fs)
	older := fs.Duration("older", 72*time.Hour, "remove listings older than this")
	botsOnly := fs.Bool("bots_only", true, "only remove bot listings")
	dryRun := fs.Bool("dry_run", false, "print what would be removed")
	_ = fs.Parse(args)

	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	cats, err := sf.catalogs()
	if err != nil {
		return err
	}

	ls, err := market.New(market.Config{Store: st, Catalogs: cats}).FetchAll(ctx)
	if err != nil {
		return err
	}
	n, err := purge(ctx, st, ls, time.Now().Add(-*older), func(seller string) bool {
		return !*botsOnly || cats.IsBot(seller)
	}, *dryRun, os.Stdout)
	if err != nil {
		return err
	}
	verb := "removed"
	if *dryRun {
		verb = "would remove"
	}
	fmt.Printf("%s %d listing(s)\n", verb, n)
	return nil
}

func purge(ctx context.Context, st store.Store, ls []protocol.Listing, cutoff time.Time, eligible func(string) bool, dryRun bool, w io.Writer) (int, error) {
	n := 0
	for _, l := range ls {
		if !l.Time.Before(cutoff) || !eligible(l.Seller) {
			continue
		}
		fmt.Fprintf(w, "%s %s x%d by %s (%s)\n", l.ID, l.Item, l.Qty, l.Seller, humanize.Time(l.Time))
		if dryRun {
			n++
			continue
		}
		var gone map[string]any
		err := st.Take(ctx, market.Collection+"/"+l.ID, &gone)
		switch {
		case err == nil:
			n++
		case errors.Is(err, store.ErrNotFound):
		default:
			return n, fmt.Errorf("purge %s: %w", l.ID, err)
		}
	}
	return n, nil
}

func statsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	sf := addStoreFlags(fs)
	_ = fs.Parse(args)

	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	counts := map[string]int{}
	if st.SQL != nil {
		if counts, err = st.SQL.Counts(ctx); err != nil {
			return err
		}
	} else {
		for _, c := range []string{"users", market.Collection} {
			var docs map[string]any
			if err := st.Get(ctx, c, &docs); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			counts[c] = len(docs)
		}
	}
	fmt.Printf("store=%s users=%s listings=%s\n", strings.ToLower(sf.kind),
		humanize.Comma(int64(counts["users"])), humanize.Comma(int64(counts[market.Collection])))
	return nil
}
