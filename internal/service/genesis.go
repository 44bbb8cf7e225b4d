package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
)

// GenesisBalance credits Account with Amount of Payment.
type GenesisBalance struct {
	Account domain.Address
	Payment domain.PaymentMethod
	Amount  *big.Int
}

// GenesisAsset registers Asset as owned by Owner.
type GenesisAsset struct {
	Asset domain.AssetRef
	Owner domain.Address
}

// Genesis is the substrate state a fresh engine starts from. Approvals lists
// accounts that approve the engine as operator over all of their assets.
type Genesis struct {
	Balances  []GenesisBalance
	Assets    []GenesisAsset
	Approvals []domain.Address
}

// Empty reports whether g seeds nothing.
func (g Genesis) Empty() bool {
	return len(g.Balances) == 0 && len(g.Assets) == 0 && len(g.Approvals) == 0
}

// SeedGenesis loads g into l. Balances and assets are written directly;
// approvals run as ordinary calls by each approving account.
func SeedGenesis(ctx context.Context, l *ledger.Ledger, g Genesis) error {
	for i, b := range g.Balances {
		if err := l.Fund(b.Account, b.Payment, b.Amount); err != nil {
			return fmt.Errorf("genesis: balance %d: %w", i, err)
		}
	}
	for i, a := range g.Assets {
		if err := l.RegisterAsset(a.Asset, a.Owner); err != nil {
			return fmt.Errorf("genesis: asset %d: %w", i, err)
		}
	}
	for _, owner := range g.Approvals {
		if err := l.SetApprovalForAll(ctx, ledger.Call{Caller: owner}, l.Engine(), true); err != nil {
			return fmt.Errorf("genesis: approval for %s: %w", owner.Hex(), err)
		}
	}
	return nil
}
