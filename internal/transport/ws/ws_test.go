package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonecraft.ai/internal/protocol"
)

func soldEvent(id string) protocol.MarketEventMsg {
	return protocol.MarketEventMsg{
		Type:            protocol.TypeMarket,
		ProtocolVersion: protocol.Version,
		Event:           protocol.EventSold,
		Listing:         protocol.Listing{ID: id, Item: "Bone Chip", Price: 100, Qty: 1, Seller: "alice"},
		Buyer:           "bob",
		At:              time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestHub_FanOutAndDropSlow(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := NewHub(logger)

	fastID, fast := h.Subscribe(4)
	_, slow := h.Subscribe(1)
	require.Equal(t, 2, h.Len())

	h.Publish(soldEvent("a"))
	h.Publish(soldEvent("b"))

	assert.Equal(t, 1, h.Len())
	assert.Len(t, fast, 2)
	<-slow
	_, open := <-slow
	assert.False(t, open)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "dropping slow feed client", hook.LastEntry().Message)

	var got protocol.MarketEventMsg
	require.NoError(t, json.Unmarshal(<-fast, &got))
	assert.Equal(t, "a", got.Listing.ID)

	h.Unsubscribe(fastID)
	h.Unsubscribe(fastID)
	assert.Equal(t, 0, h.Len())
}

func TestHub_CloseRefusesNewSubscribers(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	h := NewHub(logger)
	_, out := h.Subscribe(1)
	h.Close()
	_, open := <-out
	assert.False(t, open)

	_, late := h.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
	assert.Equal(t, 0, h.Len())
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func TestServer_WelcomeThenEvents(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	h := NewHub(logger)
	count := func(context.Context) (int, error) { return 3, nil }
	srv := httptest.NewServer(NewServer(h, count, logger).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	var welcome protocol.WelcomeMsg
	readMsg(t, conn, &welcome)
	assert.Equal(t, protocol.TypeWelcome, welcome.Type)
	assert.Equal(t, protocol.Version, welcome.ProtocolVersion)
	assert.Equal(t, 3, welcome.Listings)

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)
	h.Publish(soldEvent("L1"))

	var ev protocol.MarketEventMsg
	readMsg(t, conn, &ev)
	assert.Equal(t, protocol.EventSold, ev.Event)
	assert.Equal(t, "L1", ev.Listing.ID)
	assert.Equal(t, "bob", ev.Buyer)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_CountFailureStillWelcomes(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := NewHub(logger)
	count := func(context.Context) (int, error) { return 0, errors.New("store down") }
	srv := httptest.NewServer(NewServer(h, count, logger).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	var welcome protocol.WelcomeMsg
	readMsg(t, conn, &welcome)
	assert.Equal(t, 0, welcome.Listings)
	assert.NotEmpty(t, hook.AllEntries())
}
