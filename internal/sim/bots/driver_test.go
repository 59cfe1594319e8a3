package bots

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/market"
	"bonecraft.ai/internal/sim/tuning"
)

// scripted replays fixed draws; once a queue runs dry it returns 0 and
// 0.999 so further checks fail closed.
type scripted struct {
	mu     sync.Mutex
	ints   []int
	floats []float64
}

func (s *scripted) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	return v % n
}

func (s *scripted) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0.999
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

type listCall struct {
	seller, item string
	price        int64
	qty          int
}

type fakeMarket struct {
	mu         sync.Mutex
	listings   []protocol.Listing
	lists      []listCall
	buys       []string
	buyErr     error
	fetchErr   error
	panicky    bool
	listFails  int
	listPanics int
	cats       *catalogs.Catalogs
}

func (f *fakeMarket) List(_ context.Context, seller, item string, price int64, qty int) (protocol.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFails > 0 {
		f.listFails--
		return protocol.Listing{}, errors.New("store: unavailable")
	}
	if f.listPanics > 0 {
		f.listPanics--
		panic("listing encoder blew up")
	}
	f.lists = append(f.lists, listCall{seller, item, price, qty})
	return protocol.Listing{ID: "new", Item: item, Price: price, Qty: qty, Seller: seller}, nil
}

func (f *fakeMarket) Buy(_ context.Context, id, buyer string) (protocol.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return protocol.Listing{}, f.buyErr
	}
	f.buys = append(f.buys, id+":"+buyer)
	return protocol.Listing{ID: id}, nil
}

func (f *fakeMarket) FetchAll(context.Context) ([]protocol.Listing, error) {
	if f.panicky {
		panic("malformed listing")
	}
	return f.listings, f.fetchErr
}

func (f *fakeMarket) FairUnitValue(item string) int64 {
	return market.FairUnitValue(f.cats, 3, item)
}

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	require.NoError(t, err)
	return c
}

func newDriver(t *testing.T, m *fakeMarket, rng Rand) (*Driver, *logtest.Hook) {
	t.Helper()
	cats := loadCatalogs(t)
	m.cats = cats
	logger, hook := logtest.NewNullLogger()
	return New(Config{Market: m, Catalogs: cats, Tuning: tuning.Defaults().Bots, Rand: rng, Logger: logger}), hook
}

func TestTick_ListsSingleUnit(t *testing.T) {
	m := &fakeMarket{}
	// list check, bot GilBuyer, material Gavial Fish, batch draw 0 -> qty 1
	d, _ := newDriver(t, m, &scripted{ints: []int{24, 3, 15, 0}, floats: []float64{0}})

	action, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionList, action)
	require.Len(t, m.lists, 1)
	assert.Equal(t, listCall{"GilBuyer", "Gavial Fish", 20000, 1}, m.lists[0])
}

func TestTick_ListsBatchOfTwelve(t *testing.T) {
	m := &fakeMarket{}
	d, _ := newDriver(t, m, &scripted{ints: []int{0, 0, 1, 80}, floats: []float64{0}})

	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, m.lists, 1)
	assert.Equal(t, listCall{"SephirothXX", "Seashell", 960, 12}, m.lists[0])
}

func TestTick_ListAndBuyAreExclusive(t *testing.T) {
	m := &fakeMarket{listings: []protocol.Listing{{ID: "L1", Item: "Seashell", Price: 50, Qty: 1}}}
	d, _ := newDriver(t, m, &scripted{ints: []int{0, 0, 0, 0}, floats: []float64{0, 0}})

	action, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionList, action)
	assert.Empty(t, m.buys)
}

func TestTick_Idle(t *testing.T) {
	m := &fakeMarket{}
	d, _ := newDriver(t, m, &scripted{ints: []int{25}, floats: []float64{0.2}})

	action, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionIdle, action)
	assert.Empty(t, m.lists)
	assert.Empty(t, m.buys)
}

func TestTick_BuysUnderpricedListing(t *testing.T) {
	m := &fakeMarket{listings: []protocol.Listing{
		{ID: "L1", Item: "Ram Horn", Price: 9000, Qty: 1},
		{ID: "L2", Item: "Seashell", Price: 1300, Qty: 12},
	}}
	// no list, buy check passes, target L2 (unit 108 < 120), buyer VanaFan99
	d, _ := newDriver(t, m, &scripted{ints: []int{25, 1, 1}, floats: []float64{0.1}})

	action, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, action)
	assert.Equal(t, []string{"L2:VanaFan99"}, m.buys)
}

func TestTick_SkipsOverpricedWithoutImpulse(t *testing.T) {
	m := &fakeMarket{listings: []protocol.Listing{{ID: "L1", Item: "Seashell", Price: 500, Qty: 1}}}
	d, _ := newDriver(t, m, &scripted{ints: []int{25, 0}, floats: []float64{0.1, 0.05}})

	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.buys)
}

func TestTick_ImpulseBuy(t *testing.T) {
	m := &fakeMarket{listings: []protocol.Listing{{ID: "L1", Item: "HQ Bone Ring (+1)", Price: 99999, Qty: 1}}}
	d, _ := newDriver(t, m, &scripted{ints: []int{25, 0, 4}, floats: []float64{0.1, 0.01}})

	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"L1:ChocoRacer"}, m.buys)
}

func TestTick_LostRaceIsNotAnError(t *testing.T) {
	m := &fakeMarket{
		listings: []protocol.Listing{{ID: "L1", Item: "Seashell", Price: 10, Qty: 1}},
		buyErr:   market.ErrListingGone,
	}
	d, hook := newDriver(t, m, &scripted{ints: []int{25}, floats: []float64{0.1}})

	_, err := d.Tick(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, hook.AllEntries())
}

func TestTick_StoreErrorIsLogged(t *testing.T) {
	m := &fakeMarket{fetchErr: errors.New("store: unavailable")}
	d, hook := newDriver(t, m, &scripted{ints: []int{25}, floats: []float64{0.1}})

	action, err := d.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, ActionBuy, action)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "economy tick failed", hook.LastEntry().Message)
}

func TestTick_RecoversPanic(t *testing.T) {
	m := &fakeMarket{panicky: true}
	d, _ := newDriver(t, m, &scripted{ints: []int{25}, floats: []float64{0.1}})

	var err error
	require.NotPanics(t, func() { _, err = d.Tick(context.Background()) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestBatchQty_WeightsFavourSingles(t *testing.T) {
	draws := make([]int, 100)
	for n := range draws {
		draws[n] = n
	}
	d, _ := newDriver(t, &fakeMarket{}, &scripted{ints: draws})

	counts := map[int]int{}
	for range draws {
		counts[d.batchQty()]++
	}
	assert.Equal(t, map[int]int{1: 60, 6: 15, 12: 25}, counts)
}

func TestDelay_WithinBounds(t *testing.T) {
	for _, f := range []float64{0, 0.5, 0.999} {
		d, _ := newDriver(t, &fakeMarket{}, &scripted{floats: []float64{f}})
		got := d.delay()
		assert.GreaterOrEqual(t, got, 3*time.Second)
		assert.LessOrEqual(t, got, 6*time.Second)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	m := &fakeMarket{}
	cats := loadCatalogs(t)
	m.cats = cats
	tun := tuning.Defaults().Bots
	tun.TickMinMs, tun.TickMaxMs = 1, 2
	tun.ListChancePer10000 = 10000
	logger, _ := logtest.NewNullLogger()
	d := New(Config{Market: m, Catalogs: cats, Tuning: tun, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.lists) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestRun_KeepsTickingAfterFailures(t *testing.T) {
	m := &fakeMarket{listFails: 2, listPanics: 1}
	cats := loadCatalogs(t)
	m.cats = cats
	tun := tuning.Defaults().Bots
	tun.TickMinMs, tun.TickMaxMs = 1, 2
	tun.ListChancePer10000 = 10000
	logger, hook := logtest.NewNullLogger()
	d := New(Config{Market: m, Catalogs: cats, Tuning: tun, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.lists) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	failed := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "economy tick failed" {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}
