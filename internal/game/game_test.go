package game

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/ledger"
	"bonecraft.ai/internal/sim/market"
	"bonecraft.ai/internal/sim/synth"
	"bonecraft.ai/internal/sim/tuning"
)

type fixedRoll int

func (r fixedRoll) IntN(int) int     { return int(r) - 1 }
func (r fixedRoll) Float64() float64 { return 0 }

// flakyStore fails selected operations with ErrUnavailable.
type flakyStore struct {
	store.Store
	failPost      bool
	failPatch     bool
	failGet       bool
	failIncrement bool
}

var errDown = errors.New("connection refused")

func (f *flakyStore) Post(ctx context.Context, c string, v any) (string, error) {
	if f.failPost {
		return "", store.Unavailable("post", c, errDown)
	}
	return f.Store.Post(ctx, c, v)
}

func (f *flakyStore) Patch(ctx context.Context, p string, fields map[string]any) error {
	if f.failPatch {
		return store.Unavailable("patch", p, errDown)
	}
	return f.Store.Patch(ctx, p, fields)
}

func (f *flakyStore) Increment(ctx context.Context, p string, delta int64) (int64, error) {
	if f.failIncrement {
		return 0, store.Unavailable("increment", p, errDown)
	}
	return f.Store.Increment(ctx, p, delta)
}

func (f *flakyStore) Get(ctx context.Context, p string, out any) error {
	if f.failGet {
		return store.Unavailable("get", p, errDown)
	}
	return f.Store.Get(ctx, p, out)
}

type fixture struct {
	st   *flakyStore
	repo *ledger.Repo
	g    *Game
	hook *logtest.Hook
}

func newFixture(t *testing.T, roll int) *fixture {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "configs"))
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()

	st := &flakyStore{Store: store.NewMemory()}
	repo := ledger.NewRepo(st)
	tun := tuning.Defaults()
	f := &fixture{st: st, repo: repo, hook: hook}
	f.g = New(Config{
		Catalogs: cats,
		Ledgers:  repo,
		Synth: synth.New(synth.Config{
			Catalogs:   cats,
			FeePercent: tun.SynthFeePercent,
			Ledgers:    repo,
			Rand:       fixedRoll(roll),
			Logger:     logger,
		}),
		Market: market.New(market.Config{
			Store:        st,
			Ledgers:      repo,
			Catalogs:     cats,
			HQMultiplier: tun.HQValueMultiplier,
			Logger:       logger,
		}),
		Logger: logger,
	})
	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, st.Put(context.Background(), ledger.UserPath(u), map[string]any{
			"password": "x",
			"data":     ledger.New(tun.StarterLedger.Currency, tun.StarterLedger.Inventory),
		}))
	}
	return f
}

func (f *fixture) ledger(t *testing.T, user string) *ledger.Ledger {
	t.Helper()
	l, err := f.repo.Load(context.Background(), user)
	require.NoError(t, err)
	return l
}

func TestSynthesize_BreakConsumesMaterialAndFee(t *testing.T) {
	f := newFixture(t, 5)
	resp := f.g.Synthesize(context.Background(), "alice", "Bone Hairpin")

	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "BREAK", resp.Result)
	assert.Equal(t, 5, resp.Roll)
	assert.True(t, resp.Synced)
	assert.Equal(t, "Synthesis Failed! Materials lost. (Roll: 5)", resp.Message)

	l := f.ledger(t, "alice")
	assert.Equal(t, int64(4990), l.Currency)
	assert.Equal(t, 19, l.Qty("Bone Chip"))
	assert.Equal(t, 1, l.TotalSynths)
	assert.Equal(t, resp.Player, l.State())
}

func TestSynthesize_HighQuality(t *testing.T) {
	f := newFixture(t, 100)
	resp := f.g.Synthesize(context.Background(), "alice", "Bone Hairpin")
	require.True(t, resp.Success)
	assert.Equal(t, "HIGH_QUALITY", resp.Result)
	assert.Equal(t, 1, f.ledger(t, "alice").Qty("HQ Bone Hairpin (+1)"))
}

func TestSynthesize_Failures(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	resp := f.g.Synthesize(ctx, "alice", "Excalibur")
	assert.False(t, resp.Success)
	assert.Equal(t, protocol.ErrBadRequest, resp.Code)
	assert.Contains(t, resp.Message, "Invalid recipe")

	resp = f.g.Synthesize(ctx, "nobody", "Bone Hairpin")
	assert.False(t, resp.Success)
	assert.Equal(t, protocol.ErrNotFound, resp.Code)

	assert.Equal(t, int64(5000), f.ledger(t, "alice").Currency)
}

func TestSynthesize_SyncFailureStillReturnsResult(t *testing.T) {
	f := newFixture(t, 50)
	f.st.failIncrement = true

	resp := f.g.Synthesize(context.Background(), "alice", "Bone Hairpin")
	require.True(t, resp.Success)
	assert.False(t, resp.Synced)
	assert.Equal(t, int64(4990), resp.Player.Currency)

	f.st.failIncrement = false
	stored := f.ledger(t, "alice")
	assert.Equal(t, int64(5000), stored.Currency)
	assert.Equal(t, 20, stored.Qty("Bone Chip"))
}

func TestBuyItem_InventorySyncFailureStillCharges(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	require.True(t, f.g.ListItem(ctx, "alice", "Bone Chip", 1200, 12).Success)
	id := f.g.GetMarket(ctx).Listings[0].ID

	f.st.failPatch = true
	resp := f.g.BuyItem(ctx, "bob", id)
	require.True(t, resp.Success, resp.Message)
	f.st.failPatch = false

	// The seller was paid, so the buyer's charge must have landed even
	// though the items did not.
	assert.Equal(t, int64(6200), f.ledger(t, "alice").Currency)
	bob := f.ledger(t, "bob")
	assert.Equal(t, int64(3800), bob.Currency)
	assert.Equal(t, 20, bob.Qty("Bone Chip"))
}

func TestListThenBuy_TransfersItemsAndCurrency(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	resp := f.g.ListItem(ctx, "alice", "Bone Chip", 1200, 12)
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "Listed 12x Bone Chip for 1,200g.", resp.Message)
	assert.Equal(t, 8, f.ledger(t, "alice").Qty("Bone Chip"))

	mk := f.g.GetMarket(ctx)
	require.True(t, mk.Success)
	require.Len(t, mk.Listings, 1)
	l := mk.Listings[0]
	assert.Equal(t, "alice", l.Seller)
	assert.Equal(t, 12, l.Qty)

	buy := f.g.BuyItem(ctx, "bob", l.ID)
	require.True(t, buy.Success, buy.Message)
	assert.Equal(t, "Bought 12x Bone Chip for 1,200g.", buy.Message)
	assert.Equal(t, int64(3800), buy.Player.Currency)
	assert.Equal(t, 32, buy.Player.Inventory["Bone Chip"])

	assert.Equal(t, int64(6200), f.ledger(t, "alice").Currency)
	bob := f.ledger(t, "bob")
	assert.Equal(t, int64(3800), bob.Currency)
	assert.Equal(t, 32, bob.Qty("Bone Chip"))
	assert.Empty(t, f.g.GetMarket(ctx).Listings)
}

func TestListItem_Rejections(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	resp := f.g.ListItem(ctx, "alice", "Bone Chip", 100, 21)
	assert.False(t, resp.Success)
	assert.Equal(t, "You don't have enough of this item.", resp.Message)
	assert.Equal(t, protocol.ErrNoResource, resp.Code)

	resp = f.g.ListItem(ctx, "alice", "Bone Chip", 0, 1)
	assert.Equal(t, "Invalid listing details.", resp.Message)
	resp = f.g.ListItem(ctx, "alice", "", 10, 1)
	assert.Equal(t, protocol.ErrBadRequest, resp.Code)

	assert.Equal(t, 20, f.ledger(t, "alice").Qty("Bone Chip"))
	assert.Empty(t, f.g.GetMarket(ctx).Listings)
}

func TestListItem_PostFailureKeepsItems(t *testing.T) {
	f := newFixture(t, 50)
	f.st.failPost = true

	resp := f.g.ListItem(context.Background(), "alice", "Seashell", 500, 5)
	assert.False(t, resp.Success)
	assert.Equal(t, "Failed to list item to cloud.", resp.Message)
	assert.Equal(t, protocol.ErrUpstream, resp.Code)
	assert.Equal(t, 10, f.ledger(t, "alice").Qty("Seashell"))
	assert.NotEmpty(t, f.hook.AllEntries())
}

func TestBuyItem_InsufficientFundsLeavesListing(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	require.True(t, f.g.ListItem(ctx, "alice", "Bone Chip", 9000, 1).Success)
	id := f.g.GetMarket(ctx).Listings[0].ID

	resp := f.g.BuyItem(ctx, "bob", id)
	assert.False(t, resp.Success)
	assert.Equal(t, "Transaction failed: Insufficient Gil.", resp.Message)
	assert.Equal(t, int64(5000), resp.Player.Currency)

	assert.Len(t, f.g.GetMarket(ctx).Listings, 1)
	assert.Equal(t, int64(5000), f.ledger(t, "alice").Currency)
}

func TestBuyItem_SelfBuyReclaimsForFree(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	require.True(t, f.g.ListItem(ctx, "alice", "Sheep Tooth", 99999, 5).Success)
	id := f.g.GetMarket(ctx).Listings[0].ID

	resp := f.g.BuyItem(ctx, "alice", id)
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "Reclaimed 5x Sheep Tooth.", resp.Message)

	l := f.ledger(t, "alice")
	assert.Equal(t, int64(5000), l.Currency)
	assert.Equal(t, 5, l.Qty("Sheep Tooth"))
}

func TestBuyItem_GoneAndBadID(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	resp := f.g.BuyItem(ctx, "bob", "no-such-listing")
	assert.Equal(t, "Item already sold.", resp.Message)
	assert.Equal(t, protocol.ErrConflict, resp.Code)

	resp = f.g.BuyItem(ctx, "bob", "../users")
	assert.Equal(t, protocol.ErrBadRequest, resp.Code)
}

func TestBuyItem_ConcurrentBuyersOneWinner(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	require.True(t, f.g.ListItem(ctx, "alice", "Bone Chip", 1500, 10).Success)
	id := f.g.GetMarket(ctx).Listings[0].ID

	var wg sync.WaitGroup
	results := make([]protocol.BuyResp, 2)
	for i, buyer := range []string{"bob", "carol"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.g.BuyItem(ctx, buyer, id)
		}()
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r.Success {
			wins++
		} else {
			assert.Equal(t, protocol.ErrConflict, r.Code)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(6500), f.ledger(t, "alice").Currency)
	total := f.ledger(t, "bob").Currency + f.ledger(t, "carol").Currency
	assert.Equal(t, int64(10000-1500), total)
}

func TestGetMarket_StoreDown(t *testing.T) {
	f := newFixture(t, 50)
	f.st.failGet = true

	resp := f.g.GetMarket(context.Background())
	assert.False(t, resp.Success)
	assert.Equal(t, protocol.ErrUpstream, resp.Code)
	assert.Equal(t, "Auction house unavailable.", resp.Message)
	assert.NotNil(t, resp.Listings)
}

func TestPlayer_ReturnsRecipeBook(t *testing.T) {
	f := newFixture(t, 50)
	resp := f.g.Player(context.Background(), "alice")
	require.True(t, resp.Success)
	assert.Equal(t, int64(5000), resp.Player.Currency)
	require.Len(t, resp.Recipes, 19)
	assert.Equal(t, 5, resp.Recipes[0].Tier)
}
