package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersByKind(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"item_sold", " auction_ended "}, quietLogger())

	ctx := context.Background()
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Seq: 1, Kind: domain.EventListingCreated, EntityID: 1}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Seq: 2, Kind: domain.EventItemSold, EntityID: 1}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Seq: 3, Kind: domain.EventAuctionEnded, EntityID: 4}))

	require.Equal(t, []string{"Item sold #1", "Auction ended #4"}, s.titles)
}

func TestNotifierEmptyFilterPassesEverything(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Kind: domain.EventFeeUpdated}))
	require.Equal(t, []string{"Fee updated"}, s.titles)
}

func TestNotifierKeepsDeliveringAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad: down")
	require.Len(t, good.titles, 1)
}

func TestNilNotifierIsNoop(t *testing.T) {
	var n *Notifier
	require.False(t, n.Enabled())
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Kind: domain.EventItemSold}))
}

func TestFormatEvent(t *testing.T) {
	seller := common.HexToAddress("0x51")
	buyer := common.HexToAddress("0xb1")
	asset := domain.NewAssetRef(common.HexToAddress("0xa1"), 7)
	title, msg := FormatEvent(domain.Event{
		Seq:      9,
		Kind:     domain.EventItemSold,
		EntityID: 3,
		Caller:   buyer,
		Asset:    &asset,
		From:     &seller,
		To:       &buyer,
		Amount:   big.NewInt(100),
		Fee:      big.NewInt(1),
		Payment:  domain.Native(),
	})
	require.Equal(t, "Item sold #3", title)
	require.Contains(t, msg, "seq: 9\n")
	require.Contains(t, msg, "amount: 100 native\n")
	require.Contains(t, msg, "fee: 1\n")
	require.Contains(t, msg, "to: "+buyer.Hex())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok", "42")
	require.NoError(t, s.Send(context.Background(), "Item sold", "seq: 1"))
	require.Equal(t, "/bottok/sendMessage", path)
	require.Equal(t, "42", got["chat_id"])
	require.Contains(t, got["text"], "*Item sold*")
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p discordPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if p.Embeds[0].Title == "fail" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "")
	require.NoError(t, s.Send(context.Background(), "ok", "body"))
	err := s.Send(context.Background(), "fail", "body")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 400")
}
