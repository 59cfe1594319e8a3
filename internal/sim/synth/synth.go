// Package synth resolves crafting attempts against a player's ledger.
package synth

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/metrics"
	auditlog "bonecraft.ai/internal/persistence/log"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/ledger"
)

type Outcome string

const (
	Break       Outcome = "BREAK"
	Normal      Outcome = "NORMAL"
	HighQuality Outcome = "HIGH_QUALITY"
)

var (
	ErrUnknownRecipe        = protocol.NewError(protocol.ErrBadRequest, "Invalid recipe")
	ErrInsufficientFunds    = protocol.NewError(protocol.ErrNoResource, "Not enough Gil for synthesis fee!")
	ErrInsufficientMaterial = protocol.NewError(protocol.ErrNoResource, "Missing material")
)

// thresholds[tier] is {break if roll <= Break, HQ if roll > HQ}.
var thresholds = [catalogs.MaxTier + 1]struct{ Break, HQ int }{
	0: {35, 90},
	1: {30, 80},
	2: {25, 70},
	3: {20, 60},
	4: {15, 50},
	5: {10, 40},
}

// Classify maps a roll in [1,100] to an outcome for tier. Tiers outside
// 0..5 clamp to the nearest table row.
func Classify(tier, roll int) Outcome {
	tier = min(max(tier, 0), catalogs.MaxTier)
	t := thresholds[tier]
	switch {
	case roll <= t.Break:
		return Break
	case roll > t.HQ:
		return HighQuality
	default:
		return Normal
	}
}

// Fee is floor(price * percent / 100).
func Fee(price, percent int64) int64 {
	if price <= 0 || percent <= 0 {
		return 0
	}
	return price * percent / 100
}

type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

type Saver interface {
	Save(ctx context.Context, user string, l *ledger.Ledger) error
}

type Auditor interface {
	WriteAudit(e auditlog.AuditEntry) error
}

type Config struct {
	Catalogs   *catalogs.Catalogs
	FeePercent int64
	Ledgers    Saver
	Rand       Rand
	Audit      Auditor
	Logger     logrus.FieldLogger
}

type Engine struct {
	cats   *catalogs.Catalogs
	feePct int64
	saver  Saver
	rng    Rand
	audit  Auditor
	log    logrus.FieldLogger
}

func New(cfg Config) *Engine {
	e := &Engine{
		cats:   cfg.Catalogs,
		feePct: cfg.FeePercent,
		saver:  cfg.Ledgers,
		rng:    cfg.Rand,
		audit:  cfg.Audit,
		log:    cfg.Logger,
	}
	if e.rng == nil {
		e.rng = globalRand{}
	}
	if e.audit == nil {
		e.audit = auditlog.Nop{}
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.log = e.log.WithField("component", "synth")
	return e
}

type Result struct {
	Recipe  catalogs.RecipeDef
	Outcome Outcome
	Roll    int
	Fee     int64
	// Item is the product granted, empty on BREAK.
	Item    string
	Message string
	// Synced is false when the ledger change could not be persisted.
	Synced bool
}

// Check validates an attempt without touching l.
func (e *Engine) Check(l *ledger.Ledger, recipeName string) (catalogs.RecipeDef, int64, error) {
	r, ok := e.cats.Recipe(recipeName)
	if !ok {
		if s := e.cats.Suggest(recipeName); s != "" {
			return r, 0, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownRecipe, recipeName, s)
		}
		return r, 0, fmt.Errorf("%w: %q", ErrUnknownRecipe, recipeName)
	}
	fee := Fee(r.Price, e.feePct)
	if l.Currency < fee {
		return r, fee, ErrInsufficientFunds
	}
	if l.Qty(r.Material) < r.Qty {
		return r, fee, fmt.Errorf("%w: %dx %s!", ErrInsufficientMaterial, r.Qty, r.Material)
	}
	return r, fee, nil
}

// Synthesize runs one attempt for user and applies it to l. Validation
// failures leave l untouched. Once the roll is made the result is returned
// even if persisting l fails; Result.Synced reports which.
func (e *Engine) Synthesize(ctx context.Context, user string, l *ledger.Ledger, recipeName string) (Result, error) {
	r, fee, err := e.Check(l, recipeName)
	if err != nil {
		return Result{}, err
	}

	roll := e.rng.IntN(100) + 1
	res := apply(l, r, fee, roll)

	if err := e.saver.Save(ctx, user, l); err != nil {
		metrics.RecordSyncFailure("synth")
		e.log.WithFields(logrus.Fields{
			"user":    user,
			"recipe":  r.Name,
			"outcome": res.Outcome,
			"roll":    roll,
		}).WithError(err).Warn("sync failure")
	} else {
		res.Synced = true
	}
	metrics.RecordSynth(string(res.Outcome))

	if err := e.audit.WriteAudit(auditlog.AuditEntry{
		Kind:    auditlog.KindSynth,
		Actor:   user,
		Item:    r.Name,
		Outcome: string(res.Outcome),
		Roll:    roll,
		Fee:     fee,
		Synced:  res.Synced,
	}); err != nil {
		e.log.WithError(err).Warn("audit write failed")
	}
	return res, nil
}

// apply mutates l for an already validated attempt. Materials are consumed
// on every outcome.
func apply(l *ledger.Ledger, r catalogs.RecipeDef, fee int64, roll int) Result {
	l.Debit(fee)
	l.TotalSynths++
	l.RemoveItem(r.Material, r.Qty)

	res := Result{Recipe: r, Roll: roll, Fee: fee, Outcome: Classify(r.Tier, roll)}
	switch res.Outcome {
	case Break:
		res.Message = fmt.Sprintf("Synthesis Failed! Materials lost. (Roll: %d)", roll)
	case HighQuality:
		res.Item = catalogs.HQName(r.Name)
		res.Message = fmt.Sprintf("High Quality!! Got %s (Roll: %d)", res.Item, roll)
	default:
		res.Item = r.Name
		res.Message = fmt.Sprintf("Success. Got %s (Roll: %d)", res.Item, roll)
	}
	l.AddItem(res.Item, 1)
	return res
}
