package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/game"
	"bonecraft.ai/internal/persistence/backend"
	auditlog "bonecraft.ai/internal/persistence/log"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/accounts"
	"bonecraft.ai/internal/sim/bots"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/ledger"
	"bonecraft.ai/internal/sim/market"
	"bonecraft.ai/internal/sim/synth"
	"bonecraft.ai/internal/sim/tuning"
	"bonecraft.ai/internal/transport/httpapi"
	"bonecraft.ai/internal/transport/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("load .env")
	}

	var (
		addr       = flag.String("addr", envOr("BC_ADDR", ":8080"), "http listen address")
		configDir  = flag.String("configs", envOr("BC_CONFIGS", "./configs"), "config directory")
		tuningPath = flag.String("tuning", envOr("BC_TUNING", ""), "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", envOr("BC_DATA", "./data"), "runtime data directory")

		storeKind    = flag.String("store", envOr("BC_STORE", "sqlite"), "document store: memory|sqlite|postgres|firebase")
		sqlitePath   = flag.String("sqlite", envOr("BC_SQLITE", ""), "sqlite database path (default: <data>/bonecraft.db)")
		pgDSN        = flag.String("pg_dsn", envOr("BC_PG_DSN", ""), "postgres DSN for -store=postgres")
		firebaseURL  = flag.String("firebase_url", envOr("BC_FIREBASE_URL", ""), "realtime database URL for -store=firebase")
		firebaseAuth = flag.String("firebase_auth", envOr("BC_FIREBASE_AUTH", ""), "realtime database auth token")

		runBots      = flag.Bool("bots", envBool("BC_BOTS", true), "run the bot economy")
		audit        = flag.Bool("audit", envBool("BC_AUDIT", true), "write the JSONL+zstd audit log under <data>/audit")
		secureCookie = flag.Bool("secure_cookie", envBool("BC_SECURE_COOKIE", false), "mark the session cookie Secure")
		logFormat    = flag.String("log_format", envOr("BC_LOG_FORMAT", "text"), "log format: text|json")
		logLevel     = flag.String("log_level", envOr("BC_LOG_LEVEL", "info"), "log level")
	)
	flag.Parse()

	logger := newLogger(*logFormat, *logLevel)
	log := logger.WithField("component", "server")

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		log.WithError(err).Fatal("load catalogs")
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Fatal("load tuning")
		}
		log.WithField("path", tp).Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	val, err := protocol.NewValidator()
	if err != nil {
		log.WithError(err).Fatal("compile request schemas")
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := backend.Open(ctx, backend.Options{
		Kind:         *storeKind,
		DataDir:      *dataDir,
		SQLitePath:   *sqlitePath,
		PostgresDSN:  *pgDSN,
		FirebaseURL:  *firebaseURL,
		FirebaseAuth: *firebaseAuth,
		Timeout:      tune.Store.Timeout(),
	})
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.Close()
	log.WithField("store", *storeKind).Info("store ready")

	var auditor synth.Auditor = auditlog.Nop{}
	if *audit {
		al := auditlog.NewAuditLogger(*dataDir)
		defer al.Close()
		auditor = al
	}

	repo := ledger.NewRepo(st)
	hub := ws.NewHub(logger)
	defer hub.Close()
	mkt := market.New(market.Config{
		Store:        st,
		Ledgers:      repo,
		Catalogs:     cats,
		HQMultiplier: tune.HQValueMultiplier,
		Notifier:     hub,
		Audit:        auditor,
		Logger:       logger,
	})
	g := game.New(game.Config{
		Catalogs: cats,
		Ledgers:  repo,
		Synth: synth.New(synth.Config{
			Catalogs:   cats,
			FeePercent: tune.SynthFeePercent,
			Ledgers:    repo,
			Audit:      auditor,
			Logger:     logger,
		}),
		Market: mkt,
		Logger: logger,
	})
	accts := accounts.New(accounts.Config{
		Store:    st,
		Catalogs: cats,
		Starter:  tune.StarterLedger,
		Sessions: accounts.NewSessions(tune.Sessions.TTL()),
		Logger:   logger,
	})

	feed := ws.NewServer(hub, func(ctx context.Context) (int, error) {
		ls, err := mkt.FetchAll(ctx)
		return len(ls), err
	}, logger)
	api := httpapi.New(httpapi.Config{
		Game:          g,
		Accounts:      accts,
		Validator:     val,
		Feed:          feed.Handler(),
		ActionsPerSec: tune.Sessions.ActionsPerSecond,
		Burst:         tune.Sessions.Burst,
		SecureCookie:  *secureCookie,
		CookieMaxAge:  tune.Sessions.TTL(),
		Logger:        logger,
	})

	var wg sync.WaitGroup
	if *runBots {
		driver := bots.New(bots.Config{Market: mkt, Catalogs: cats, Tuning: tune.Bots, Logger: logger})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := driver.Run(ctx); err != nil {
				log.WithError(err).Error("bot economy stopped")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if b, s := api.Sweep(); b+s > 0 {
					log.WithFields(logrus.Fields{"limiters": b, "sessions": s}).Debug("swept idle state")
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		hub.Close()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithFields(logrus.Fields{
		"addr":    *addr,
		"recipes": len(cats.Recipes.List),
		"bots":    *runBots,
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("ListenAndServe")
	}
	cancel()
	wg.Wait()
	log.Info("shutdown complete")
}

func newLogger(format, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
