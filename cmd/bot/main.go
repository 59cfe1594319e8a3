package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/market"
)

// bot tails the market feed and prints each event, flagging listings that
// sell below their fair unit value.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "market feed url")
		configDir = flag.String("configs", "./configs", "config directory (for fair values; empty to skip)")
		hqMult    = flag.Int64("hq_mult", 3, "HQ value multiplier")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("component", "feed-tail")

	var fair func(string) int64
	if *configDir != "" {
		cats, err := catalogs.Load(*configDir)
		if err != nil {
			log.WithError(err).Warn("catalogs unavailable; fair values off")
		} else {
			fair = func(item string) int64 { return market.FairUnitValue(cats, *hqMult, item) }
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backoff := time.Second
	for ctx.Err() == nil {
		err := tail(ctx, *url, fair, log)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).WithField("retry_in", backoff).Warn("feed disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func tail(ctx context.Context, url string, fair func(string) int64, log logrus.FieldLogger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		line, ok := formatMessage(msg, fair)
		if ok {
			log.Info(line)
		}
	}
}

func formatMessage(msg []byte, fair func(string) int64) (string, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return "", false
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return "", false
		}
		return fmt.Sprintf("WELCOME protocol=%s open_listings=%d", w.ProtocolVersion, w.Listings), true
	case protocol.TypeMarket:
		var ev protocol.MarketEventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			return "", false
		}
		return formatEvent(ev, fair), true
	}
	return "", false
}

func formatEvent(ev protocol.MarketEventMsg, fair func(string) int64) string {
	l := ev.Listing
	var s string
	if ev.Event == protocol.EventSold {
		s = fmt.Sprintf("SOLD   %dx %s for %sg  %s -> %s", l.Qty, l.Item, humanize.Comma(l.Price), l.Seller, ev.Buyer)
	} else {
		s = fmt.Sprintf("LISTED %dx %s for %sg by %s [%s]", l.Qty, l.Item, humanize.Comma(l.Price), l.Seller, l.ID)
	}
	if fair == nil || ev.Event != protocol.EventListed {
		return s
	}
	if v := fair(l.Item); v > 0 && l.UnitPrice() < float64(v) {
		s += fmt.Sprintf("  DEAL: %.0f%% of fair %sg", 100*l.UnitPrice()/float64(v), humanize.Comma(v))
	}
	return s
}
