package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bonecraft.ai/internal/persistence/backend"
	"bonecraft.ai/internal/sim/catalogs"
)

const usage = `usage: admin <command> [flags]

commands:
  listings     show open auction house listings
  purge        remove stale listings
  users        list accounts
  user         show one account ledger
  leaderboard  rank players by currency
  grant        add (or with a negative amount, remove) currency
  stats        document counts per collection
  audit        read the audit log
  health       query a running server's /healthz and /metrics
  export       write every document to a zstd snapshot file
  import       load a snapshot file into the store
`

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "listings":
		err = listingsCmd(ctx, args)
	case "purge":
		err = purgeCmd(ctx, args)
	case "users":
		err = usersCmd(ctx, args)
	case "user":
		err = userCmd(ctx, args)
	case "leaderboard":
		err = leaderboardCmd(ctx, args)
	case "grant":
		err = grantCmd(ctx, args)
	case "stats":
		err = statsCmd(ctx, args)
	case "audit":
		err = auditCmd(args)
	case "health":
		err = healthCmd(args)
	case "export":
		err = exportCmd(ctx, args)
	case "import":
		err = importCmd(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, cmd+":", err)
		os.Exit(1)
	}
}

// storeFlags are shared by every command that talks to the document store.
type storeFlags struct {
	kind, dataDir, sqlite, pgDSN, fbURL, fbAuth, configs string
}

func addStoreFlags(fs *flag.FlagSet) *storeFlags {
	f := &storeFlags{}
	fs.StringVar(&f.kind, "store", envOr("BC_STORE", "sqlite"), "document store: sqlite|postgres|firebase")
	fs.StringVar(&f.dataDir, "data", envOr("BC_DATA", "./data"), "runtime data directory")
	fs.StringVar(&f.sqlite, "sqlite", envOr("BC_SQLITE", ""), "sqlite database path (default: <data>/bonecraft.db)")
	fs.StringVar(&f.pgDSN, "pg_dsn", envOr("BC_PG_DSN", ""), "postgres DSN")
	fs.StringVar(&f.fbURL, "firebase_url", envOr("BC_FIREBASE_URL", ""), "realtime database URL")
	fs.StringVar(&f.fbAuth, "firebase_auth", envOr("BC_FIREBASE_AUTH", ""), "realtime database auth token")
	fs.StringVar(&f.configs, "configs", envOr("BC_CONFIGS", "./configs"), "config directory")
	return f
}

func (f *storeFlags) open(ctx context.Context) (*backend.Opened, error) {
	if f.kind == backend.Memory {
		return nil, fmt.Errorf("the memory store only lives inside a server process")
	}
	return backend.Open(ctx, backend.Options{
		Kind:         f.kind,
		DataDir:      f.dataDir,
		SQLitePath:   f.sqlite,
		PostgresDSN:  f.pgDSN,
		FirebaseURL:  f.fbURL,
		FirebaseAuth: f.fbAuth,
		Timeout:      10 * time.Second,
	})
}

func (f *storeFlags) catalogs() (*catalogs.Catalogs, error) {
	return catalogs.Load(f.configs)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
