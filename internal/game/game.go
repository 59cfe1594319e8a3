// Package game is the request-level facade over the ledger, synthesis
// engine and auction house. Every call returns a response value; errors
// are folded into {success:false, message, code}.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/metrics"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/ledger"
	"bonecraft.ai/internal/sim/market"
	"bonecraft.ai/internal/sim/synth"
)

var (
	ErrNotEnoughItems  = protocol.NewError(protocol.ErrNoResource, "You don't have enough of this item.")
	ErrListFailed      = protocol.NewError(protocol.ErrUpstream, "Failed to list item to cloud.")
	ErrInsufficientGil = market.ErrOverBudget
)

type Config struct {
	Catalogs *catalogs.Catalogs
	Ledgers  *ledger.Repo
	Synth    *synth.Engine
	Market   *market.Market
	Logger   logrus.FieldLogger
}

type Game struct {
	cats    *catalogs.Catalogs
	ledgers *ledger.Repo
	synth   *synth.Engine
	market  *market.Market
	log     logrus.FieldLogger

	// One request per user at a time; a ledger is loaded, changed and
	// saved as a unit.
	locks sync.Map
}

func New(cfg Config) *Game {
	g := &Game{
		cats:    cfg.Catalogs,
		ledgers: cfg.Ledgers,
		synth:   cfg.Synth,
		market:  cfg.Market,
		log:     cfg.Logger,
	}
	if g.log == nil {
		g.log = logrus.StandardLogger()
	}
	g.log = g.log.WithField("component", "game")
	return g
}

func (g *Game) lock(user string) func() {
	v, _ := g.locks.LoadOrStore(user, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Failure converts err into a failed response. Infrastructure errors only
// expose their public message.
func (g *Game) Failure(op, user string, err error) protocol.Response {
	code := protocol.CodeOf(err)
	msg := err.Error()
	if code == protocol.ErrUpstream || code == protocol.ErrInternal {
		var pe *protocol.Error
		if errors.As(err, &pe) {
			msg = pe.Message
		} else {
			msg = "Internal error."
		}
		g.log.WithFields(logrus.Fields{"op": op, "user": user, "code": code}).WithError(err).Error("request failed")
	}
	return protocol.Response{Success: false, Message: msg, Code: code}
}

// Player returns the current ledger and the recipe book.
func (g *Game) Player(ctx context.Context, user string) protocol.SyncResp {
	l, err := g.ledgers.Load(ctx, user)
	if err != nil {
		return protocol.SyncResp{Response: g.Failure("sync", user, err)}
	}
	recipes := g.cats.SortedRecipes()
	views := make([]protocol.RecipeView, 0, len(recipes))
	for _, r := range recipes {
		views = append(views, protocol.RecipeView{Name: r.Name, Price: r.Price, Tier: r.Tier, Material: r.Material, Qty: r.Qty})
	}
	return protocol.SyncResp{Response: protocol.Response{Success: true}, Player: l.State(), Recipes: views}
}

func (g *Game) Synthesize(ctx context.Context, user, recipe string) protocol.SynthResp {
	defer g.lock(user)()

	l, err := g.ledgers.Load(ctx, user)
	if err != nil {
		return protocol.SynthResp{Response: g.Failure("synth", user, err)}
	}
	res, err := g.synth.Synthesize(ctx, user, l, recipe)
	if err != nil {
		return protocol.SynthResp{Response: g.Failure("synth", user, err), Player: l.State()}
	}
	return protocol.SynthResp{
		Response: protocol.Response{Success: true, Message: res.Message},
		Result:   string(res.Outcome),
		Roll:     res.Roll,
		Synced:   res.Synced,
		Player:   l.State(),
	}
}

// ListItem moves qty of item from user's inventory onto the auction house.
// If the listing cannot be posted the items stay with the player.
func (g *Game) ListItem(ctx context.Context, user, item string, price int64, qty int) protocol.Response {
	if item == "" || price <= 0 || qty <= 0 {
		return g.Failure("list", user, market.ErrInvalidListing)
	}
	defer g.lock(user)()

	l, err := g.ledgers.Load(ctx, user)
	if err != nil {
		return g.Failure("list", user, err)
	}
	if !l.RemoveItem(item, qty) {
		return g.Failure("list", user, ErrNotEnoughItems)
	}
	listing, err := g.market.List(ctx, user, item, price, qty)
	if err != nil {
		l.AddItem(item, qty)
		if protocol.CodeOf(err) == protocol.ErrUpstream {
			err = fmt.Errorf("%w: %v", ErrListFailed, err)
		}
		return g.Failure("list", user, err)
	}
	if err := g.ledgers.Save(ctx, user, l); err != nil {
		metrics.RecordSyncFailure("list")
		g.log.WithFields(logrus.Fields{"user": user, "listing": listing.ID}).WithError(err).Warn("sync failure")
	}
	return protocol.Response{Success: true, Message: fmt.Sprintf("Listed %dx %s for %sg.", qty, item, humanize.Comma(price))}
}

// BuyItem buys a whole listing. Affordability is checked against a peek
// before the listing is taken, so a poor buyer never removes it. Buying
// back one's own listing returns the items at no cost.
func (g *Game) BuyItem(ctx context.Context, user, listingID string) protocol.BuyResp {
	defer g.lock(user)()

	l, err := g.ledgers.Load(ctx, user)
	if err != nil {
		return protocol.BuyResp{Response: g.Failure("buy", user, err)}
	}
	peek, err := g.market.Get(ctx, listingID)
	if err != nil {
		return protocol.BuyResp{Response: g.Failure("buy", user, err), Player: l.State()}
	}
	if peek.Seller != user && l.Currency < peek.Price {
		return protocol.BuyResp{Response: g.Failure("buy", user, ErrInsufficientGil), Player: l.State()}
	}

	// The user lock keeps l.Currency current, so the budget covers the debit.
	bought, err := g.market.BuyWithin(ctx, listingID, user, l.Currency)
	if err != nil {
		return protocol.BuyResp{Response: g.Failure("buy", user, err), Player: l.State()}
	}

	msg := fmt.Sprintf("Bought %dx %s for %sg.", bought.Qty, bought.Item, humanize.Comma(bought.Price))
	if bought.Seller == user {
		msg = fmt.Sprintf("Reclaimed %dx %s.", bought.Qty, bought.Item)
	} else {
		l.Debit(bought.Price)
	}
	l.AddItem(bought.Item, bought.Qty)

	if err := g.ledgers.Save(ctx, user, l); err != nil {
		metrics.RecordSyncFailure("buy")
		g.log.WithFields(logrus.Fields{"user": user, "listing": bought.ID}).WithError(err).Warn("sync failure")
	}
	return protocol.BuyResp{Response: protocol.Response{Success: true, Message: msg}, Player: l.State()}
}

func (g *Game) GetMarket(ctx context.Context) protocol.MarketResp {
	listings, err := g.market.FetchAll(ctx)
	if err != nil {
		return protocol.MarketResp{Response: g.Failure("market", "", err), Listings: []protocol.Listing{}}
	}
	return protocol.MarketResp{Response: protocol.Response{Success: true}, Listings: listings}
}
