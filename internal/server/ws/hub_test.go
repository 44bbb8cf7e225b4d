package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

type sliceSource []domain.Event

func (s sliceSource) Events(_ context.Context, from uint64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range s {
		if e.Seq >= from && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func startHub(t *testing.T, source EventSource) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, source, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{RunID: "run-1"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestBroadcastReachesSubscribedClients(t *testing.T) {
	hub, url := startHub(t, nil)

	all := dial(t, url)
	require.Equal(t, "status", read(t, all).Type)
	bids := dial(t, url+"?channels=events.bid_placed")
	require.Equal(t, "status", read(t, bids).Type)

	hub.Broadcast("events.item_sold", []byte(`{"seq":1,"kind":"item_sold"}`))
	hub.Broadcast("events.bid_placed", []byte(`{"seq":2,"kind":"bid_placed"}`))

	env := read(t, all)
	require.Equal(t, "events.item_sold", env.Channel)
	require.Equal(t, "events.bid_placed", read(t, all).Channel)

	env = read(t, bids)
	require.Equal(t, "event", env.Type)
	require.Equal(t, "events.bid_placed", env.Channel)
	require.JSONEq(t, `{"seq":2,"kind":"bid_placed"}`, string(env.Payload))
}

func TestReplay(t *testing.T) {
	source := sliceSource{
		{Seq: 1, Kind: domain.EventListingCreated},
		{Seq: 2, Kind: domain.EventItemSold},
		{Seq: 3, Kind: domain.EventListingCreated},
	}
	_, url := startHub(t, source)

	conn := dial(t, url+"?channels=events.listing_created")
	require.Equal(t, "status", read(t, conn).Type)
	require.NoError(t, conn.WriteJSON(clientMsg{Action: "replay", From: 1}))

	var seqs []uint64
	for {
		env := read(t, conn)
		if env.Type == "replay_done" {
			require.JSONEq(t, `{"next":4}`, string(env.Payload))
			break
		}
		var e domain.Event
		require.NoError(t, json.Unmarshal(env.Payload, &e))
		seqs = append(seqs, e.Seq)
	}
	require.Equal(t, []uint64{1, 3}, seqs)
}

func TestChannelOf(t *testing.T) {
	ch, err := channelOf([]byte(`{"seq":5,"kind":"offer_made"}`))
	require.NoError(t, err)
	require.Equal(t, "events.offer_made", ch)

	_, err = channelOf([]byte(`not json`))
	require.Error(t, err)
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"events.item_sold": true, "events.offer_*": true}}
	require.True(t, c.isSubscribed("events.item_sold"))
	require.True(t, c.isSubscribed("events.offer_accepted"))
	require.False(t, c.isSubscribed("events.bid_placed"))
}

func TestOriginAllowed(t *testing.T) {
	require.True(t, originAllowed(nil, "https://any.example"))
	require.True(t, originAllowed([]string{"https://app.example"}, ""))
	require.False(t, originAllowed([]string{"https://app.example"}, "https://evil.example"))
}
