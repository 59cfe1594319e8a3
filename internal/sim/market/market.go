// Package market is the auction house: listings live in the store under
// auction_house/{id} until exactly one buyer takes them.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/metrics"
	auditlog "bonecraft.ai/internal/persistence/log"
	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
)

const Collection = "auction_house"

var (
	ErrInvalidListing = protocol.NewError(protocol.ErrBadRequest, "Invalid listing details.")
	ErrBadListingID   = protocol.NewError(protocol.ErrBadRequest, "Invalid listing id.")
	ErrListingGone    = protocol.NewError(protocol.ErrConflict, "Item already sold.")
	ErrOverBudget     = protocol.NewError(protocol.ErrNoResource, "Transaction failed: Insufficient Gil.")
)

type Crediter interface {
	Credit(ctx context.Context, user string, amount int64) (int64, error)
}

// Notifier receives market events. Publish must not block.
type Notifier interface {
	Publish(ev protocol.MarketEventMsg)
}

type Auditor interface {
	WriteAudit(e auditlog.AuditEntry) error
}

type Config struct {
	Store        store.Store
	Ledgers      Crediter
	Catalogs     *catalogs.Catalogs
	HQMultiplier int64
	Notifier     Notifier
	Audit        Auditor
	Logger       logrus.FieldLogger
	Now          func() time.Time
}

type Market struct {
	st       store.Store
	ledgers  Crediter
	cats     *catalogs.Catalogs
	hqMult   int64
	notifier Notifier
	audit    Auditor
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(cfg Config) *Market {
	m := &Market{
		st:       cfg.Store,
		ledgers:  cfg.Ledgers,
		cats:     cfg.Catalogs,
		hqMult:   cfg.HQMultiplier,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if m.hqMult <= 0 {
		m.hqMult = 3
	}
	if m.audit == nil {
		m.audit = auditlog.Nop{}
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.log = m.log.WithField("component", "market")
	return m
}

// SetNotifier installs n as the event sink. It must be called before the
// market is shared.
func (m *Market) SetNotifier(n Notifier) { m.notifier = n }

func (m *Market) isBot(name string) bool {
	return m.cats != nil && m.cats.IsBot(name)
}

func listingPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/.") {
		return "", ErrBadListingID
	}
	return Collection + "/" + id, nil
}

// List posts a new listing of qty units of item for price in total. The
// seller's holdings are the caller's concern.
func (m *Market) List(ctx context.Context, seller, item string, price int64, qty int) (protocol.Listing, error) {
	if strings.TrimSpace(item) == "" || price <= 0 || qty <= 0 || seller == "" {
		metrics.RecordMarket("list", protocol.ErrBadRequest)
		return protocol.Listing{}, ErrInvalidListing
	}
	d := doc{Item: item, Price: price, Qty: qty, Seller: seller, Time: stamp(m.now().UTC())}
	id, err := m.st.Post(ctx, Collection, d)
	if err != nil {
		metrics.RecordMarket("list", protocol.ErrUpstream)
		return protocol.Listing{}, upstream("list", err)
	}
	l := d.listing(id)
	metrics.RecordMarket("list", "")

	kind := auditlog.KindList
	if m.isBot(seller) {
		kind = auditlog.KindBotList
	}
	m.record(auditlog.AuditEntry{Kind: kind, Actor: seller, Item: item, Qty: qty, Price: price, ListingID: id, Synced: true})
	m.publish(protocol.EventListed, l, "")
	return l, nil
}

// Get returns one listing without removing it.
func (m *Market) Get(ctx context.Context, id string) (protocol.Listing, error) {
	p, err := listingPath(id)
	if err != nil {
		return protocol.Listing{}, err
	}
	var d doc
	if err := m.st.Get(ctx, p, &d); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Listing{}, ErrListingGone
		}
		return protocol.Listing{}, upstream("get listing", err)
	}
	return d.listing(id), nil
}

// Buy removes the listing for buyer and credits the seller. The store's
// Take hands the listing to exactly one caller; everyone else gets
// ErrListingGone. The buyer's own debit is the caller's job. A failed
// seller credit is logged and does not undo the sale.
func (m *Market) Buy(ctx context.Context, id, buyer string) (protocol.Listing, error) {
	return m.buy(ctx, id, buyer, math.MaxInt64)
}

// BuyWithin is Buy for a buyer holding budget. A listing priced above the
// budget is put back under its id before anyone is credited, and the call
// fails with ErrOverBudget. Buying back one's own listing ignores budget.
func (m *Market) BuyWithin(ctx context.Context, id, buyer string, budget int64) (protocol.Listing, error) {
	return m.buy(ctx, id, buyer, budget)
}

func (m *Market) buy(ctx context.Context, id, buyer string, budget int64) (protocol.Listing, error) {
	p, err := listingPath(id)
	if err != nil {
		metrics.RecordMarket("buy", protocol.ErrBadRequest)
		return protocol.Listing{}, err
	}
	var d doc
	if err := m.st.Take(ctx, p, &d); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordMarket("buy", protocol.ErrConflict)
			return protocol.Listing{}, ErrListingGone
		}
		metrics.RecordMarket("buy", protocol.ErrUpstream)
		return protocol.Listing{}, upstream("buy", err)
	}
	if d.Seller != buyer && d.Price > budget {
		metrics.RecordMarket("buy", protocol.ErrNoResource)
		if err := m.st.Create(ctx, p, d); err != nil {
			m.log.WithFields(logrus.Fields{"listing": id, "seller": d.Seller}).WithError(err).Error("restoring listing failed")
		}
		return protocol.Listing{}, ErrOverBudget
	}
	l := d.listing(id)
	metrics.RecordMarket("buy", "")

	credited := true
	if l.Seller != buyer && !m.isBot(l.Seller) && m.ledgers != nil {
		if _, err := m.ledgers.Credit(ctx, l.Seller, l.Price); err != nil {
			credited = false
			metrics.RecordSyncFailure("credit")
			m.log.WithFields(logrus.Fields{
				"listing": id,
				"seller":  l.Seller,
				"buyer":   buyer,
				"price":   l.Price,
			}).WithError(err).Warn("seller credit failed")
		}
	}

	kind := auditlog.KindBuy
	if m.isBot(buyer) {
		kind = auditlog.KindBotBuy
	}
	m.record(auditlog.AuditEntry{Kind: kind, Actor: buyer, Item: l.Item, Qty: l.Qty, Price: l.Price, ListingID: id, Seller: l.Seller, Synced: credited})
	m.publish(protocol.EventSold, l, buyer)
	return l, nil
}

// FetchAll returns every listing, newest first. Entries that do not decode
// are skipped.
func (m *Market) FetchAll(ctx context.Context) ([]protocol.Listing, error) {
	var raw map[string]json.RawMessage
	if err := m.st.Get(ctx, Collection, &raw); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []protocol.Listing{}, nil
		}
		return nil, upstream("fetch market", err)
	}
	out := make([]protocol.Listing, 0, len(raw))
	for id, b := range raw {
		var d doc
		if err := json.Unmarshal(b, &d); err != nil || d.Item == "" {
			m.log.WithField("listing", id).WithError(err).Warn("skipping malformed listing")
			continue
		}
		out = append(out, d.listing(id))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Market) record(e auditlog.AuditEntry) {
	if err := m.audit.WriteAudit(e); err != nil {
		m.log.WithError(err).Warn("audit write failed")
	}
}

func (m *Market) publish(event string, l protocol.Listing, buyer string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(protocol.MarketEventMsg{
		Type:            protocol.TypeMarket,
		ProtocolVersion: protocol.Version,
		Event:           event,
		Listing:         l,
		Buyer:           buyer,
		At:              m.now().UTC(),
	})
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", protocol.NewError(protocol.ErrUpstream, "Auction house unavailable."), op, err)
}
