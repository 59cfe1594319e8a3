package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonecraft.ai/internal/protocol"
)

func TestFormatMessage(t *testing.T) {
	fair := func(item string) int64 {
		if item == "Bone Chip" {
			return 100
		}
		return 0
	}

	welcome, err := json.Marshal(protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, Listings: 4})
	require.NoError(t, err)
	line, ok := formatMessage(welcome, fair)
	require.True(t, ok)
	assert.Equal(t, "WELCOME protocol=1.0 open_listings=4", line)

	listed, err := json.Marshal(protocol.MarketEventMsg{
		Type:    protocol.TypeMarket,
		Event:   protocol.EventListed,
		Listing: protocol.Listing{ID: "L1", Item: "Bone Chip", Price: 960, Qty: 12, Seller: "GilBuyer"},
	})
	require.NoError(t, err)
	line, ok = formatMessage(listed, fair)
	require.True(t, ok)
	assert.Equal(t, "LISTED 12x Bone Chip for 960g by GilBuyer [L1]  DEAL: 80% of fair 100g", line)

	sold := protocol.MarketEventMsg{
		Event:   protocol.EventSold,
		Listing: protocol.Listing{Item: "Seashell", Price: 2500, Qty: 5, Seller: "alice"},
		Buyer:   "bob",
	}
	assert.Equal(t, "SOLD   5x Seashell for 2,500g  alice -> bob", formatEvent(sold, fair))

	_, ok = formatMessage([]byte(`{"type":"PING"}`), fair)
	assert.False(t, ok)
	_, ok = formatMessage([]byte(`nope`), nil)
	assert.False(t, ok)
}
