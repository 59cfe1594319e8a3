// Package ledger holds a player's wallet and inventory and persists it
// under users/{name}/data.
package ledger

import (
	"maps"
	"sort"

	"bonecraft.ai/internal/protocol"
)

type Ledger struct {
	Currency    int64          `json:"currency"`
	Inventory   map[string]int `json:"inventory"`
	TotalSynths int            `json:"total_synths"`
	LastActive  int64          `json:"last_active,omitempty"`

	// loaded is the currency last read from or written to the store;
	// Save applies Currency-loaded as an atomic increment.
	loaded int64
}

// New returns a ledger that the store already holds verbatim.
func New(currency int64, inventory map[string]int) *Ledger {
	l := &Ledger{Currency: currency, Inventory: map[string]int{}, loaded: currency}
	for item, n := range inventory {
		l.AddItem(item, n)
	}
	return l
}

func (l *Ledger) Qty(item string) int {
	return l.Inventory[item]
}

// AddItem adds qty units of item. Non-positive quantities are ignored.
func (l *Ledger) AddItem(item string, qty int) {
	if qty <= 0 || item == "" {
		return
	}
	if l.Inventory == nil {
		l.Inventory = map[string]int{}
	}
	l.Inventory[item] += qty
}

// RemoveItem takes qty units of item if the ledger holds at least that many.
// It reports false and changes nothing otherwise.
func (l *Ledger) RemoveItem(item string, qty int) bool {
	if qty <= 0 {
		return false
	}
	have := l.Inventory[item]
	if have < qty {
		return false
	}
	if have == qty {
		delete(l.Inventory, item)
	} else {
		l.Inventory[item] = have - qty
	}
	return true
}

// Debit takes amount from the wallet if it is covered.
func (l *Ledger) Debit(amount int64) bool {
	if amount < 0 || l.Currency < amount {
		return false
	}
	l.Currency -= amount
	return true
}

func (l *Ledger) Credit(amount int64) {
	if amount > 0 {
		l.Currency += amount
	}
}

func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Inventory = maps.Clone(l.Inventory)
	if c.Inventory == nil {
		c.Inventory = map[string]int{}
	}
	return &c
}

// State is the view handed to API callers.
func (l *Ledger) State() *protocol.PlayerState {
	inv := maps.Clone(l.Inventory)
	if inv == nil {
		inv = map[string]int{}
	}
	return &protocol.PlayerState{Currency: l.Currency, Inventory: inv, TotalSynths: l.TotalSynths}
}

// Items returns the held item names in order.
func (l *Ledger) Items() []string {
	out := make([]string, 0, len(l.Inventory))
	for k := range l.Inventory {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
