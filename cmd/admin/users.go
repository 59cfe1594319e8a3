package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/sim/accounts"
	"bonecraft.ai/internal/sim/ledger"
)

type userRow struct {
	Name string         `json:"-"`
	Data *ledger.Ledger `json:"data"`
}

func usersCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	sf := addStoreFlags(fs)
	_ = fs.Parse(args)

	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var raw map[string]userRow
	if err := st.Get(ctx, "users", &raw); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	rows := make([]userRow, 0, len(raw))
	for name, r := range raw {
		r.Name = name
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	printUsers(os.Stdout, rows, time.Now())
	return nil
}

func printUsers(w io.Writer, rows []userRow, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tCURRENCY\tSYNTHS\tITEMS\tLAST ACTIVE")
	for _, r := range rows {
		if r.Data == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\n", r.Name)
			continue
		}
		items := 0
		for _, n := range r.Data.Inventory {
			items += n
		}
		last := "never"
		if r.Data.LastActive > 0 {
			last = humanize.RelTime(time.Unix(r.Data.LastActive, 0), now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Name, humanize.Comma(r.Data.Currency), r.Data.TotalSynths, items, last)
	}
	_ = tw.Flush()
}

func userCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("user", flag.ExitOnError)
	sf := addStoreFlags(fs)
	name := fs.String("name", "", "username (required)")
	_ = fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("missing -name")
	}

	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := ledger.NewRepo(st).Load(ctx, *name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}

func leaderboardCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	sf := addStoreFlags(fs)
	top := fs.Int("top", 10, "rows to print")
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

	board, err := accounts.New(accounts.Config{Store: st, Catalogs: cats}).Leaderboard(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPLAYER\tCURRENCY\tSYNTHS")
	for i, e := range board {
		if *top > 0 && i >= *top {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", humanize.Ordinal(i+1), e.Name, humanize.Comma(e.Currency), e.Synths)
	}
	return tw.Flush()
}

func grantCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	sf := addStoreFlags(fs)
	name := fs.String("name", "", "username (required)")
	amount := fs.Int64("amount", 0, "currency to add; negative removes")
	_ = fs.Parse(args)
	if *name == "" || *amount == 0 {
		return fmt.Errorf("need -name and a non-zero -amount")
	}

	st, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := ledger.NewRepo(st).Credit(ctx, *name, *amount)
	if err != nil {
		return err
	}
	fmt.Printf("%s now has %sg\n", *name, humanize.Comma(n))
	return nil
}
