package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
approvals = ["0x00000000000000000000000000000000000000b2"]

[[balances]]
account = "0x00000000000000000000000000000000000000b1"
payment = "native"
amount = "1000000000000000000000"

[[balances]]
account = "0x00000000000000000000000000000000000000b1"
payment = "0x00000000000000000000000000000000000000c0"
amount = "5"

[[assets]]
contract = "0x00000000000000000000000000000000000000d0"
token_id = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
owner = "0x00000000000000000000000000000000000000b2"
`), 0o600))

	seed, err := LoadGenesis(path)
	require.NoError(t, err)

	buyer := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	seller := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	require.Equal(t, []domain.Address{seller}, seed.Approvals)
	require.Len(t, seed.Balances, 2)
	require.Equal(t, buyer, seed.Balances[0].Account)
	require.True(t, seed.Balances[0].Payment.IsNative())
	require.Equal(t, "1000000000000000000000", seed.Balances[0].Amount.String())
	require.Equal(t, domain.TokenPayment(common.HexToAddress("0x00000000000000000000000000000000000000c0")), seed.Balances[1].Payment)

	require.Len(t, seed.Assets, 1)
	maxID := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.Zero(t, maxID.Cmp(seed.Assets[0].Asset.TokenID))
	require.Equal(t, seller, seed.Assets[0].Owner)
}

func TestGenesisParseCollectsErrors(t *testing.T) {
	f := GenesisFile{
		Approvals: []string{"nope"},
		Balances:  []GenesisBalance{{Account: "0x00000000000000000000000000000000000000b1", Amount: "-1"}},
		Assets:    []GenesisAssetRow{{Contract: "0x0000000000000000000000000000000000000000", TokenID: "1", Owner: "0x00000000000000000000000000000000000000b1"}},
	}
	_, err := f.Parse()
	require.Error(t, err)
	for _, want := range []string{"approvals[0]", "balances[0].amount", "assets[0].contract"} {
		require.Contains(t, err.Error(), want)
	}
}
