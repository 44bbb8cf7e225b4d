package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/config"
	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/service"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Engine.Address = "0x00000000000000000000000000000000000000e1"
	cfg.Engine.Admin = "0x00000000000000000000000000000000000000a1"
	cfg.Signer.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return &cfg
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWireInMemory(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	require.NotEmpty(t, deps.RunID)
	require.NotNil(t, deps.Server)
	require.Nil(t, deps.Archive)
	require.Nil(t, deps.Lease)
	require.Equal(t, common.HexToAddress(cfg.Engine.Address), deps.Ledger.Engine())

	// Without an explicit trusted signer the issuer key's address is trusted.
	require.NotEqual(t, domain.ZeroAddress, deps.Market.TrustedSigner(context.Background()))

	rec := httptest.NewRecorder()
	deps.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, deps.RunID, body["run_id"])
}

func TestWireWithoutServer(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Enabled = false
	cfg.Signer.PrivateKey = ""

	deps, cleanup, err := Wire(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	require.Nil(t, deps.Server)

	_, err = deps.Market.IssueAuthorization(domain.Authorization{})
	require.ErrorIs(t, err, service.ErrUnavailable)
}

func TestSeedGenesisFromFile(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), testConfig(), quiet())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
approvals = ["0x00000000000000000000000000000000000000b2"]

[[balances]]
account = "0x00000000000000000000000000000000000000b1"
payment = "native"
amount = "500"

[[assets]]
contract = "0x00000000000000000000000000000000000000c1"
token_id = "7"
owner = "0x00000000000000000000000000000000000000b2"
`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = deps.Dispatcher.Run(ctx) }()

	g, err := seedGenesis(ctx, path, deps.Ledger)
	require.NoError(t, err)
	require.Len(t, g.Assets, 1)

	buyer := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	balances := deps.Market.Balances(context.Background(), buyer, nil)
	require.Equal(t, "500", balances[domain.Native()].String())

	view, err := deps.Market.Asset(context.Background(), g.Assets[0].Asset)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000b2"), view.Owner)
}

func TestReplaySourceBeforeWiring(t *testing.T) {
	_, err := (&replaySource{}).Events(context.Background(), 1, 10)
	require.ErrorIs(t, err, service.ErrUnavailable)
}
