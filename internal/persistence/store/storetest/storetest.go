// Package storetest is a conformance suite every store.Store backend runs.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonecraft.ai/internal/persistence/store"
)

type account struct {
	Password string      `json:"password"`
	Data     accountData `json:"data"`
}

type accountData struct {
	Currency    int64          `json:"currency"`
	Inventory   map[string]int `json:"inventory,omitempty"`
	TotalSynths int            `json:"total_synths"`
}

type listing struct {
	Item   string `json:"item"`
	Price  int64  `json:"price"`
	Qty    int    `json:"qty"`
	Seller string `json:"seller"`
}

// Run exercises s through the operations the game relies on. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		var out account
		err := s.Get(context.Background(), "users/nobody", &out)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("PutGetNested", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		in := account{Password: "h", Data: accountData{Currency: 5000, Inventory: map[string]int{"Bone Chip": 20}}}
		require.NoError(t, s.Put(ctx, "users/alice", in))

		var got account
		require.NoError(t, s.Get(ctx, "users/alice", &got))
		assert.Equal(t, in, got)

		var data accountData
		require.NoError(t, s.Get(ctx, "users/alice/data", &data))
		assert.Equal(t, in.Data, data)

		var cur int64
		require.NoError(t, s.Get(ctx, "users/alice/data/currency", &cur))
		assert.Equal(t, int64(5000), cur)

		var users map[string]account
		require.NoError(t, s.Get(ctx, "users", &users))
		assert.Len(t, users, 1)
	})

	t.Run("PutNilDeletes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "users/alice", account{Password: "h"}))
		require.NoError(t, s.Put(ctx, "users/alice", nil))
		assert.ErrorIs(t, s.Get(ctx, "users/alice", &account{}), store.ErrNotFound)
	})

	t.Run("PatchMergesAndRemoves", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "users/bob", account{Password: "h", Data: accountData{Currency: 10, Inventory: map[string]int{"Seashell": 1}, TotalSynths: 2}}))
		require.NoError(t, s.Patch(ctx, "users/bob/data", map[string]any{
			"inventory":    map[string]int{"Bone Chip": 3},
			"total_synths": 3,
			"last_active":  nil,
		}))

		var got accountData
		require.NoError(t, s.Get(ctx, "users/bob/data", &got))
		assert.Equal(t, accountData{Currency: 10, Inventory: map[string]int{"Bone Chip": 3}, TotalSynths: 3}, got)

		require.NoError(t, s.Patch(ctx, "users/bob/data", map[string]any{"inventory": nil}))
		var after accountData
		require.NoError(t, s.Get(ctx, "users/bob/data", &after))
		assert.Empty(t, after.Inventory)
		assert.Equal(t, int64(10), after.Currency)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Delete(ctx, "auction_house/none"))
		require.NoError(t, s.Put(ctx, "auction_house/x", listing{Item: "Seashell", Price: 100, Qty: 1}))
		require.NoError(t, s.Delete(ctx, "auction_house/x"))
		require.NoError(t, s.Delete(ctx, "auction_house/x"))
		assert.ErrorIs(t, s.Get(ctx, "auction_house/x", &listing{}), store.ErrNotFound)
	})

	t.Run("PostGeneratesDistinctIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, err := s.Post(ctx, "auction_house", listing{Item: "Bone Chip", Price: 1200, Qty: 12, Seller: "alice"})
		require.NoError(t, err)
		b, err := s.Post(ctx, "auction_house", listing{Item: "Bone Chip", Price: 1200, Qty: 12, Seller: "alice"})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		var all map[string]listing
		require.NoError(t, s.Get(ctx, "auction_house", &all))
		assert.Len(t, all, 2)
		assert.Equal(t, int64(1200), all[a].Price)
	})

	t.Run("TakeHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, err := s.Post(ctx, "auction_house", listing{Item: "Ram Horn", Price: 1500, Qty: 1, Seller: "VanaFan99"})
		require.NoError(t, err)

		const buyers = 8
		var wins, gone atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var l listing
				switch err := s.Take(ctx, "auction_house/"+id, &l); {
				case err == nil:
					assert.Equal(t, "Ram Horn", l.Item)
					wins.Add(1)
				case assert.ErrorIs(t, err, store.ErrNotFound):
					gone.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(buyers-1), gone.Load())
		assert.ErrorIs(t, s.Get(ctx, "auction_house/"+id, &listing{}), store.ErrNotFound)
	})

	t.Run("CreateHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const creators = 8
		var wins, taken atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < creators; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				in := account{Password: fmt.Sprintf("h%d", i), Data: accountData{Currency: 5000}}
				switch err := s.Create(ctx, "users/bob", in); {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, store.ErrExists):
					taken.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(creators-1), taken.Load())

		var got account
		require.NoError(t, s.Get(ctx, "users/bob", &got))
		assert.Equal(t, int64(5000), got.Data.Currency)
		assert.ErrorIs(t, s.Create(ctx, "users/bob", account{Password: "late"}), store.ErrExists)
	})

	t.Run("IncrementIsAtomic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "users/carol", account{Password: "h", Data: accountData{Currency: 100}}))

		const n = 10
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Increment(ctx, "users/carol/data/currency", 50)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		var cur int64
		require.NoError(t, s.Get(ctx, "users/carol/data/currency", &cur))
		assert.Equal(t, int64(100+n*50), cur)

		got, err := s.Increment(ctx, "users/carol/data/gifts", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got)
	})

	t.Run("IncrementMissingDocument", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(context.Background(), "users/ghost/data/currency", 10)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("BadPath", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Get(context.Background(), "", &account{}), store.ErrBadPath)
		assert.ErrorIs(t, s.Put(context.Background(), "users/../x", 1), store.ErrBadPath)
	})
}
