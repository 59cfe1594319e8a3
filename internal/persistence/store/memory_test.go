package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/persistence/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemory() })
}

func TestMemory_CanceledContextIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.NewMemory().Put(ctx, "users/a", map[string]int{"x": 1})
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

type stallStore struct{ store.Store }

func (stallStore) Get(ctx context.Context, path string, out any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWithTimeout_DeadlineIsUnavailable(t *testing.T) {
	s := store.WithTimeout(stallStore{store.NewMemory()}, 20*time.Millisecond)
	err := s.Get(context.Background(), "users/a", &struct{}{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
