package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// AssetReceiver is code attached to an account that runs whenever an asset is
// transferred to it. The context carries the in-flight call: engine calls and
// reads made with it run inside that call and see its uncommitted state.
// Returning an error rejects the transfer and fails the whole call.
//
// The context is bound to the goroutine running the hook. It must not be
// handed to another goroutine, and once the hook returns it no longer joins
// the call: using it afterwards behaves like a fresh top-level context.
// Fund, RegisterAsset and RegisterReceiver always take the lock and must not
// be called from a hook.
type AssetReceiver interface {
	OnAssetReceived(ctx context.Context, from domain.Address, asset domain.AssetRef) error
}

// ReceiverFunc adapts a function to AssetReceiver.
type ReceiverFunc func(ctx context.Context, from domain.Address, asset domain.AssetRef) error

// OnAssetReceived calls f.
func (f ReceiverFunc) OnAssetReceived(ctx context.Context, from domain.Address, asset domain.AssetRef) error {
	return f(ctx, from, asset)
}

type balanceKey struct {
	account domain.Address
	method  domain.PaymentMethod
}

type bidKey struct {
	auction uint64
	bidder  domain.Address
}

// state is the ledger substrate (ownership, approvals, balances) plus the
// engine's own tables. Tables are append-only; id is index+1.
type state struct {
	owners    map[string]domain.Address
	custody   map[string]domain.Address // asset key -> depositor, set while escrowed
	approvals map[domain.Address]map[domain.Address]bool
	receivers map[domain.Address]AssetReceiver
	balances  map[balanceKey]*big.Int

	listings []domain.Listing
	auctions []domain.Auction
	offers   []domain.Offer
	bids     map[bidKey]domain.Bid

	fees   domain.FeeAccount
	limits domain.Limits
	signer domain.Address

	pending []domain.Event
	events  []domain.Event
}

func newState(cfg Config) *state {
	return &state{
		owners:    make(map[string]domain.Address),
		custody:   make(map[string]domain.Address),
		approvals: make(map[domain.Address]map[domain.Address]bool),
		receivers: make(map[domain.Address]AssetReceiver),
		balances:  make(map[balanceKey]*big.Int),
		bids:      make(map[bidKey]domain.Bid),
		fees: domain.FeeAccount{
			PlatformFeeBps: cfg.PlatformFeeBps,
			OfferFeeBps:    cfg.OfferFeeBps,
			Accumulated:    make(map[domain.PaymentMethod]*big.Int),
		},
		limits: cfg.Limits,
		signer: cfg.TrustedSigner,
	}
}

func (s *state) balance(account domain.Address, method domain.PaymentMethod) *big.Int {
	if v, ok := s.balances[balanceKey{account, method}]; ok {
		return v
	}
	return new(big.Int)
}

func (s *state) listing(id uint64) (domain.Listing, error) {
	if id == 0 || id > uint64(len(s.listings)) {
		return domain.Listing{}, domain.ErrEntityNotFound
	}
	return s.listings[id-1], nil
}

func (s *state) auction(id uint64) (domain.Auction, error) {
	if id == 0 || id > uint64(len(s.auctions)) {
		return domain.Auction{}, domain.ErrEntityNotFound
	}
	return s.auctions[id-1], nil
}

func (s *state) offer(id uint64) (domain.Offer, error) {
	if id == 0 || id > uint64(len(s.offers)) {
		return domain.Offer{}, domain.ErrEntityNotFound
	}
	return s.offers[id-1], nil
}

// Journaled setters. Each records how to restore the previous value.

func (l *Ledger) setBalance(account domain.Address, method domain.PaymentMethod, v *big.Int) {
	k := balanceKey{account, method}
	prev, had := l.st.balances[k]
	l.st.balances[k] = v
	l.tx.record(func() {
		if had {
			l.st.balances[k] = prev
		} else {
			delete(l.st.balances, k)
		}
	})
}

func (l *Ledger) setOwner(asset domain.AssetRef, owner domain.Address) {
	k := asset.Key()
	prev, had := l.st.owners[k]
	l.st.owners[k] = owner
	l.tx.record(func() {
		if had {
			l.st.owners[k] = prev
		} else {
			delete(l.st.owners, k)
		}
	})
}

func (l *Ledger) setCustody(asset domain.AssetRef, depositor domain.Address, held bool) {
	k := asset.Key()
	prev, had := l.st.custody[k]
	if held {
		l.st.custody[k] = depositor
	} else {
		delete(l.st.custody, k)
	}
	l.tx.record(func() {
		if had {
			l.st.custody[k] = prev
		} else {
			delete(l.st.custody, k)
		}
	})
}

func (l *Ledger) setApproval(owner, operator domain.Address, approved bool) {
	ops, ok := l.st.approvals[owner]
	if !ok {
		ops = make(map[domain.Address]bool)
		l.st.approvals[owner] = ops
	}
	prev := ops[operator]
	ops[operator] = approved
	l.tx.record(func() { ops[operator] = prev })
}

func (l *Ledger) putListing(v domain.Listing) {
	if v.ID == uint64(len(l.st.listings))+1 {
		l.st.listings = append(l.st.listings, v)
		n := len(l.st.listings) - 1
		l.tx.record(func() { l.st.listings = l.st.listings[:n] })
		return
	}
	i := v.ID - 1
	prev := l.st.listings[i]
	l.st.listings[i] = v
	l.tx.record(func() { l.st.listings[i] = prev })
}

func (l *Ledger) putAuction(v domain.Auction) {
	if v.ID == uint64(len(l.st.auctions))+1 {
		l.st.auctions = append(l.st.auctions, v)
		n := len(l.st.auctions) - 1
		l.tx.record(func() { l.st.auctions = l.st.auctions[:n] })
		return
	}
	i := v.ID - 1
	prev := l.st.auctions[i]
	l.st.auctions[i] = v
	l.tx.record(func() { l.st.auctions[i] = prev })
}

func (l *Ledger) putOffer(v domain.Offer) {
	if v.ID == uint64(len(l.st.offers))+1 {
		l.st.offers = append(l.st.offers, v)
		n := len(l.st.offers) - 1
		l.tx.record(func() { l.st.offers = l.st.offers[:n] })
		return
	}
	i := v.ID - 1
	prev := l.st.offers[i]
	l.st.offers[i] = v
	l.tx.record(func() { l.st.offers[i] = prev })
}

func (l *Ledger) putBid(v domain.Bid) {
	k := bidKey{auction: v.AuctionID, bidder: v.Bidder}
	prev, had := l.st.bids[k]
	l.st.bids[k] = v
	l.tx.record(func() {
		if had {
			l.st.bids[k] = prev
		} else {
			delete(l.st.bids, k)
		}
	})
}

// transferPayment moves amount of method from one account to another. Native
// value and fungible tokens share one balance table keyed by method, so both
// variants go through the same debit and credit.
func (l *Ledger) transferPayment(method domain.PaymentMethod, from, to domain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", domain.ErrValidation)
	}
	src := l.st.balance(from, method)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", domain.ErrInsufficientFunds, from.Hex(), src, method, amount)
	}
	if from == to {
		return nil
	}
	dst := l.st.balance(to, method)
	l.setBalance(from, method, new(big.Int).Sub(src, amount))
	l.setBalance(to, method, new(big.Int).Add(dst, amount))
	return nil
}

// Genesis helpers. They seed substrate state outside of any call and emit no
// events.

// Fund credits account with amount of method.
func (l *Ledger) Fund(account domain.Address, method domain.PaymentMethod, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: fund: %w: amount must be positive", domain.ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.st.balance(account, method)
	l.setBalance(account, method, new(big.Int).Add(cur, amount))
	return nil
}

// RegisterAsset records owner as the holder of a new asset.
func (l *Ledger) RegisterAsset(asset domain.AssetRef, owner domain.Address) error {
	if err := asset.Validate(); err != nil {
		return fmt.Errorf("ledger: register asset: %w", err)
	}
	if owner == domain.ZeroAddress {
		return fmt.Errorf("ledger: register asset: %w", domain.ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.st.owners[asset.Key()]; ok {
		return fmt.Errorf("ledger: register asset %s: %w", asset, domain.ErrAlreadyExists)
	}
	l.setOwner(asset.Clone(), owner)
	return nil
}

// RegisterReceiver attaches receiver code to an account. A nil receiver
// detaches it.
func (l *Ledger) RegisterReceiver(account domain.Address, r AssetReceiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil {
		delete(l.st.receivers, account)
		return
	}
	l.st.receivers[account] = r
}

// SetApprovalForAll lets the caller grant or revoke operator rights over all
// of its assets. The engine must be approved before it can take custody.
func (l *Ledger) SetApprovalForAll(ctx context.Context, call Call, operator domain.Address, approved bool) error {
	return l.exec(ctx, "set approval", call, func(c *callCtx) error {
		if operator == domain.ZeroAddress {
			return fmt.Errorf("operator: %w", domain.ErrZeroAddress)
		}
		c.l.setApproval(c.caller, operator, approved)
		return nil
	})
}

// OwnerOf returns the current owner of asset.
func (l *Ledger) OwnerOf(ctx context.Context, asset domain.AssetRef) (domain.Address, error) {
	var (
		owner domain.Address
		ok    bool
	)
	l.read(ctx, func() { owner, ok = l.st.owners[asset.Key()] })
	if !ok {
		return domain.Address{}, fmt.Errorf("ledger: owner of %s: %w", asset, domain.ErrNotFound)
	}
	return owner, nil
}

// InCustody reports whether the engine currently escrows asset.
func (l *Ledger) InCustody(ctx context.Context, asset domain.AssetRef) bool {
	var ok bool
	l.read(ctx, func() { _, ok = l.st.custody[asset.Key()] })
	return ok
}

// BalanceOf returns the balance of account in method.
func (l *Ledger) BalanceOf(ctx context.Context, account domain.Address, method domain.PaymentMethod) *big.Int {
	out := new(big.Int)
	l.read(ctx, func() { out.Set(l.st.balance(account, method)) })
	return out
}

// IsApprovedForAll reports whether operator may move owner's assets.
func (l *Ledger) IsApprovedForAll(ctx context.Context, owner, operator domain.Address) bool {
	var ok bool
	l.read(ctx, func() { ok = l.st.approvals[owner][operator] })
	return ok
}
