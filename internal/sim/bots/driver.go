// Package bots drives the simulated traders that keep the auction house
// moving: they list materials out of thin air and buy listings that look
// cheap.
package bots

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/metrics"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/market"
	"bonecraft.ai/internal/sim/tuning"
)

// Market is the part of the auction house the driver trades against.
type Market interface {
	List(ctx context.Context, seller, item string, price int64, qty int) (protocol.Listing, error)
	Buy(ctx context.Context, id, buyer string) (protocol.Listing, error)
	FetchAll(ctx context.Context) ([]protocol.Listing, error)
	FairUnitValue(item string) int64
}

type Rand interface {
	IntN(n int) int
	Float64() float64
}

// globalRand uses the math/rand/v2 top-level source.
type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// Tick actions.
const (
	ActionIdle = "idle"
	ActionList = "list"
	ActionBuy  = "buy"
)

type Config struct {
	Market   Market
	Catalogs *catalogs.Catalogs
	Tuning   tuning.Bots
	Rand     Rand
	Logger   logrus.FieldLogger
}

type Driver struct {
	m     Market
	cats  *catalogs.Catalogs
	tun   tuning.Bots
	rng   Rand
	log   logrus.FieldLogger
	total int
}

func New(cfg Config) *Driver {
	d := &Driver{
		m:    cfg.Market,
		cats: cfg.Catalogs,
		tun:  cfg.Tuning,
		rng:  cfg.Rand,
		log:  cfg.Logger,
	}
	if d.rng == nil {
		d.rng = globalRand{}
	}
	if d.log == nil {
		d.log = logrus.StandardLogger()
	}
	d.log = d.log.WithField("component", "bots")
	for _, w := range d.tun.BatchWeights {
		d.total += w.Weight
	}
	return d
}

// Run ticks until ctx is done. A failing or panicking tick is logged and
// the loop carries on.
func (d *Driver) Run(ctx context.Context) error {
	d.log.WithField("bots", len(d.cats.Bots.Names)).Info("economy simulation started")
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("economy simulation stopped")
			return nil
		case <-timer.C:
		}
		d.Tick(ctx)
		timer.Reset(d.delay())
	}
}

// Tick performs at most one action and reports which one it chose.
func (d *Driver) Tick(ctx context.Context) (action string, err error) {
	action = ActionIdle
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bot tick panic: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "error"
			d.log.WithField("action", action).WithError(err).Warn("economy tick failed")
		}
		metrics.RecordBotTick(action, result)
	}()

	switch {
	case d.rng.IntN(10000) < d.tun.ListChancePer10000:
		action = ActionList
		err = d.list(ctx)
	case d.rng.Float64()*100 < float64(d.tun.BuyChancePercent):
		action = ActionBuy
		err = d.buy(ctx)
	}
	return action, err
}

func (d *Driver) delay() time.Duration {
	lo, hi := d.tun.TickMin(), d.tun.TickMax()
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(d.rng.Float64()*float64(hi-lo))
}

func (d *Driver) pickBot() string {
	names := d.cats.Bots.Names
	return names[d.rng.IntN(len(names))]
}

// batchQty draws a listing size from the configured weights.
func (d *Driver) batchQty() int {
	if d.total <= 0 {
		return 1
	}
	n := d.rng.IntN(d.total)
	for _, w := range d.tun.BatchWeights {
		if n < w.Weight {
			return w.Qty
		}
		n -= w.Weight
	}
	return 1
}

// unitPrice perturbs base by a uniform multiplier and floors the result.
func (d *Driver) unitPrice(base int64) int64 {
	lo, hi := d.tun.PriceMultiplierMin, d.tun.PriceMultiplierMax
	mult := lo + d.rng.Float64()*(hi-lo)
	return max(int64(math.Floor(float64(base)*mult)), 1)
}

func (d *Driver) list(ctx context.Context) error {
	bot := d.pickBot()
	materials := d.cats.Materials.List
	if len(materials) == 0 {
		return nil
	}
	mat := materials[d.rng.IntN(len(materials))]
	qty := d.batchQty()
	unit := d.unitPrice(mat.BasePrice)

	l, err := d.m.List(ctx, bot, mat.Name, unit*int64(qty), qty)
	if err != nil {
		return fmt.Errorf("list %s: %w", mat.Name, err)
	}
	d.log.WithFields(logrus.Fields{"bot": bot, "item": l.Item, "qty": l.Qty, "price": l.Price}).Debug("bot listed")
	return nil
}

func (d *Driver) buy(ctx context.Context) error {
	listings, err := d.m.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch market: %w", err)
	}
	if len(listings) == 0 {
		return nil
	}
	target := listings[d.rng.IntN(len(listings))]
	fair := d.m.FairUnitValue(target.Item)
	ceiling := float64(fair) * float64(d.tun.FairValueMarkupPercent) / 100

	if target.UnitPrice() >= ceiling && d.rng.Float64()*100 >= float64(d.tun.ImpulseBuyPercent) {
		return nil
	}
	buyer := d.pickBot()
	if _, err := d.m.Buy(ctx, target.ID, buyer); err != nil {
		if errors.Is(err, market.ErrListingGone) {
			return nil
		}
		return fmt.Errorf("buy %s: %w", target.ID, err)
	}
	d.log.WithFields(logrus.Fields{"bot": buyer, "item": target.Item, "price": target.Price, "seller": target.Seller}).Debug("bot bought")
	return nil
}
