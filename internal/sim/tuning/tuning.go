package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	SynthFeePercent   int64 `yaml:"synth_fee_percent" json:"synth_fee_percent"`
	HQValueMultiplier int64 `yaml:"hq_value_multiplier" json:"hq_value_multiplier"`

	StarterLedger StarterLedger `yaml:"starter_ledger" json:"starter_ledger"`
	Bots          Bots          `yaml:"bots" json:"bots"`
	Sessions      Sessions      `yaml:"sessions" json:"sessions"`
	Store         Store         `yaml:"store" json:"store"`
}

type StarterLedger struct {
	Currency  int64          `yaml:"currency" json:"currency"`
	Inventory map[string]int `yaml:"inventory" json:"inventory"`
}

type Bots struct {
	TickMinMs              int           `yaml:"tick_min_ms" json:"tick_min_ms"`
	TickMaxMs              int           `yaml:"tick_max_ms" json:"tick_max_ms"`
	ListChancePer10000     int           `yaml:"list_chance_per_10000" json:"list_chance_per_10000"`
	BuyChancePercent       int           `yaml:"buy_chance_percent" json:"buy_chance_percent"`
	PriceMultiplierMin     float64       `yaml:"price_multiplier_min" json:"price_multiplier_min"`
	PriceMultiplierMax     float64       `yaml:"price_multiplier_max" json:"price_multiplier_max"`
	FairValueMarkupPercent int           `yaml:"fair_value_markup_percent" json:"fair_value_markup_percent"`
	ImpulseBuyPercent      int           `yaml:"impulse_buy_percent" json:"impulse_buy_percent"`
	BatchWeights           []BatchWeight `yaml:"batch_weights" json:"batch_weights"`
}

type BatchWeight struct {
	Qty    int `yaml:"qty" json:"qty"`
	Weight int `yaml:"weight" json:"weight"`
}

type Sessions struct {
	TTLMinutes       int     `yaml:"ttl_minutes" json:"ttl_minutes"`
	ActionsPerSecond float64 `yaml:"actions_per_second" json:"actions_per_second"`
	Burst            int     `yaml:"burst" json:"burst"`
}

type Store struct {
	TimeoutMs int `yaml:"timeout_ms" json:"timeout_ms"`
}

// Defaults mirrors configs/tuning.yaml so a missing file still yields a
// playable economy.
func Defaults() Tuning {
	return Tuning{
		SynthFeePercent:   10,
		HQValueMultiplier: 3,
		StarterLedger: StarterLedger{
			Currency: 5000,
			Inventory: map[string]int{
				"Bone Chip":    20,
				"Seashell":     10,
				"Chicken Bone": 5,
				"Sheep Tooth":  5,
			},
		},
		Bots: Bots{
			TickMinMs:              3000,
			TickMaxMs:              6000,
			ListChancePer10000:     25,
			BuyChancePercent:       20,
			PriceMultiplierMin:     0.8,
			PriceMultiplierMax:     1.5,
			FairValueMarkupPercent: 120,
			ImpulseBuyPercent:      5,
			BatchWeights: []BatchWeight{
				{Qty: 1, Weight: 60},
				{Qty: 6, Weight: 15},
				{Qty: 12, Weight: 25},
			},
		},
		Sessions: Sessions{TTLMinutes: 720, ActionsPerSecond: 4, Burst: 8},
		Store:    Store{TimeoutMs: 10000},
	}
}

// Load reads path over Defaults(); keys absent from the file keep their
// default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.SynthFeePercent < 0 || t.SynthFeePercent > 100 {
		return fmt.Errorf("synth_fee_percent %d out of range", t.SynthFeePercent)
	}
	if t.StarterLedger.Currency < 0 {
		return fmt.Errorf("starter_ledger.currency must be >= 0")
	}
	for item, n := range t.StarterLedger.Inventory {
		if n <= 0 {
			return fmt.Errorf("starter_ledger.inventory[%s] must be > 0", item)
		}
	}
	b := t.Bots
	if b.TickMinMs <= 0 || b.TickMaxMs < b.TickMinMs {
		return fmt.Errorf("bots: tick range %d..%d invalid", b.TickMinMs, b.TickMaxMs)
	}
	if b.PriceMultiplierMin <= 0 || b.PriceMultiplierMax < b.PriceMultiplierMin {
		return fmt.Errorf("bots: price multiplier range invalid")
	}
	total := 0
	for _, w := range b.BatchWeights {
		if w.Qty <= 0 || w.Weight < 0 {
			return fmt.Errorf("bots: batch weight %+v invalid", w)
		}
		total += w.Weight
	}
	if total <= 0 {
		return fmt.Errorf("bots: batch_weights must have positive total weight")
	}
	return nil
}

func (b Bots) TickMin() time.Duration { return time.Duration(b.TickMinMs) * time.Millisecond }
func (b Bots) TickMax() time.Duration { return time.Duration(b.TickMaxMs) * time.Millisecond }

func (s Sessions) TTL() time.Duration { return time.Duration(s.TTLMinutes) * time.Minute }

func (s Store) Timeout() time.Duration { return time.Duration(s.TimeoutMs) * time.Millisecond }
