package config

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// GenesisFile is the TOML seed file named by [genesis] path. Amounts and
// token ids are decimal strings so values beyond 64 bits survive decoding.
//
//	approvals = ["0x..."]
//
//	[[balances]]
//	account = "0x..."
//	payment = "native"
//	amount  = "1000000000000000000"
//
//	[[assets]]
//	contract = "0x..."
//	token_id = "1"
//	owner    = "0x..."
type GenesisFile struct {
	Approvals []string          `toml:"approvals"`
	Balances  []GenesisBalance  `toml:"balances"`
	Assets    []GenesisAssetRow `toml:"assets"`
}

// GenesisBalance is one funded account.
type GenesisBalance struct {
	Account string               `toml:"account"`
	Payment domain.PaymentMethod `toml:"payment"`
	Amount  string               `toml:"amount"`
}

// GenesisAssetRow is one registered asset and its owner.
type GenesisAssetRow struct {
	Contract string `toml:"contract"`
	TokenID  string `toml:"token_id"`
	Owner    string `toml:"owner"`
}

// Seed is a parsed genesis file.
type Seed struct {
	Balances  []SeedBalance
	Assets    []SeedAsset
	Approvals []domain.Address
}

// SeedBalance credits Account with Amount of Payment.
type SeedBalance struct {
	Account domain.Address
	Payment domain.PaymentMethod
	Amount  *big.Int
}

// SeedAsset registers Asset as owned by Owner.
type SeedAsset struct {
	Asset domain.AssetRef
	Owner domain.Address
}

// LoadGenesis decodes and parses the genesis file at path.
func LoadGenesis(path string) (Seed, error) {
	var f GenesisFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Seed{}, fmt.Errorf("genesis: %w", err)
	}
	return f.Parse()
}

// Parse validates every row and converts it to engine types. All problems are
// reported together.
func (f GenesisFile) Parse() (Seed, error) {
	var (
		seed Seed
		errs []error
	)
	for i, s := range f.Approvals {
		addr, err := parseAddr(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("approvals[%d]: %w", i, err))
			continue
		}
		seed.Approvals = append(seed.Approvals, addr)
	}
	for i, b := range f.Balances {
		addr, err := parseAddr(b.Account)
		if err != nil {
			errs = append(errs, fmt.Errorf("balances[%d].account: %w", i, err))
			continue
		}
		amount, err := parseUint(b.Amount)
		if err != nil {
			errs = append(errs, fmt.Errorf("balances[%d].amount: %w", i, err))
			continue
		}
		seed.Balances = append(seed.Balances, SeedBalance{Account: addr, Payment: b.Payment, Amount: amount})
	}
	for i, a := range f.Assets {
		contract, err := parseAddr(a.Contract)
		if err != nil {
			errs = append(errs, fmt.Errorf("assets[%d].contract: %w", i, err))
			continue
		}
		owner, err := parseAddr(a.Owner)
		if err != nil {
			errs = append(errs, fmt.Errorf("assets[%d].owner: %w", i, err))
			continue
		}
		id, err := parseUint(a.TokenID)
		if err != nil {
			errs = append(errs, fmt.Errorf("assets[%d].token_id: %w", i, err))
			continue
		}
		seed.Assets = append(seed.Assets, SeedAsset{
			Asset: domain.AssetRef{Contract: contract, TokenID: id},
			Owner: owner,
		})
	}
	if len(errs) > 0 {
		return Seed{}, fmt.Errorf("genesis: %w", errors.Join(errs...))
	}
	return seed, nil
}

func parseAddr(s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == domain.ZeroAddress {
		return domain.Address{}, errors.New("zero address")
	}
	return addr, nil
}

func parseUint(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
