package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"launchpad/native/curve"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func buyEvent(asset common.Address, input uint64) curve.Trade {
	return curve.Trade{Asset: asset, Side: curve.SideBuy, Input: input, Curve: curve.NewCurve(asset, asset, "n", "s", "", 1)}
}

func TestHubFiltersAndReplays(t *testing.T) {
	hub := NewHub(4, 8, nil)
	hub.Emit(buyEvent(assetA, 1))
	hub.Emit(buyEvent(assetB, 2))

	updates, backlog, cancel := hub.Subscribe(strings.ToLower(assetA.Hex()))
	defer cancel()
	require.Len(t, backlog, 1)
	require.Equal(t, "1", backlog[0].Attributes["input"])

	hub.Emit(buyEvent(assetB, 3))
	hub.Emit(buyEvent(assetA, 4))
	msg := <-updates
	require.Equal(t, curve.EventTypeTradeBuy, msg.Type)
	require.Equal(t, "4", msg.Attributes["input"])
	require.Equal(t, uint64(4), msg.Sequence)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, 0, nil)
	updates, _, cancel := hub.Subscribe("")
	defer cancel()
	hub.Emit(buyEvent(assetA, 1))
	hub.Emit(buyEvent(assetA, 2))
	require.Equal(t, 0, hub.Subscribers())
	<-updates
	_, ok := <-updates
	require.False(t, ok)
}

func TestHubWebsocket(t *testing.T) {
	hub := NewHub(8, 8, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	hub.Emit(buyEvent(assetA, 10))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?asset=" + assetA.Hex()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "10", msg.Attributes["input"])

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	hub.Emit(buyEvent(assetA, 11))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "11", msg.Attributes["input"])
}
