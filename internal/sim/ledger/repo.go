package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/protocol"
)

var ErrAccountNotFound = protocol.NewError(protocol.ErrNotFound, "account not found")

func UserPath(user string) string     { return "users/" + user }
func DataPath(user string) string     { return UserPath(user) + "/data" }
func CurrencyPath(user string) string { return DataPath(user) + "/currency" }

type Repo struct {
	st  store.Store
	now func() time.Time
}

func NewRepo(st store.Store) *Repo {
	return &Repo{st: st, now: time.Now}
}

func (r *Repo) Load(ctx context.Context, user string) (*Ledger, error) {
	var l Ledger
	if err := r.st.Get(ctx, DataPath(user), &l); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, user)
		}
		return nil, fmt.Errorf("load ledger %s: %w", user, err)
	}
	if l.Inventory == nil {
		l.Inventory = map[string]int{}
	}
	for item, n := range l.Inventory {
		if n <= 0 {
			delete(l.Inventory, item)
		}
	}
	l.loaded = l.Currency
	return &l, nil
}

// Save writes l back and stamps last_active. Currency moves first, by the
// change since Load, so credits that landed in between survive; inventory
// and counters are replaced after it. A failure part way through can lose
// items but never keeps items whose price was not charged. On success
// l.Currency is the stored balance. If the currency write fails l is left
// as it was.
func (r *Repo) Save(ctx context.Context, user string, l *Ledger) error {
	if delta := l.Currency - l.loaded; delta != 0 {
		n, err := r.st.Increment(ctx, CurrencyPath(user), delta)
		if err != nil {
			return fmt.Errorf("save ledger %s: currency: %w", user, err)
		}
		l.Currency, l.loaded = n, n
	}

	stamp := r.now().Unix()
	inv := l.Inventory
	if len(inv) == 0 {
		inv = nil
	}
	err := r.st.Patch(ctx, DataPath(user), map[string]any{
		"inventory":    inv,
		"total_synths": l.TotalSynths,
		"last_active":  stamp,
	})
	if err != nil {
		return fmt.Errorf("save ledger %s: %w", user, err)
	}
	l.LastActive = stamp
	return nil
}

// Credit adds amount to user's stored balance without loading the ledger.
func (r *Repo) Credit(ctx context.Context, user string, amount int64) (int64, error) {
	n, err := r.st.Increment(ctx, CurrencyPath(user), amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, user)
		}
		return 0, fmt.Errorf("credit %s: %w", user, err)
	}
	return n, nil
}
