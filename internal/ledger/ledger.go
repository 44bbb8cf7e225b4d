// Package ledger implements the marketplace and escrow engine: custody of
// uniquely owned assets, fee routing, listings, auctions, offers and
// signature-authorized settlement over an in-process ledger substrate.
//
// Every external call runs as one indivisible unit behind a single mutex.
// State changes are journaled; a failing call rolls all of them back.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// DefaultMaxCallDepth bounds nesting of calls made from receiver hooks.
const DefaultMaxCallDepth = 4

// Clock supplies the ledger's notion of now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SignatureVerifier recovers the address that signed an authorization.
type SignatureVerifier interface {
	Recover(auth domain.Authorization, sig []byte) (domain.Address, error)
}

// Config holds the engine parameters fixed at construction.
type Config struct {
	Engine         domain.Address // account that holds escrowed assets and funds
	Admin          domain.Address
	TrustedSigner  domain.Address
	PlatformFeeBps uint32
	OfferFeeBps    uint32
	Limits         domain.Limits
	MaxCallDepth   int
}

// Call identifies the caller of an engine operation and the native value it
// attaches. A nil Value is zero.
type Call struct {
	Caller domain.Address
	Value  *big.Int
}

// Commit is everything one successful call changed, handed to the commit hook
// while the ledger is still locked so hooks observe commits in order.
type Commit struct {
	Op       string
	Caller   domain.Address
	Events   []domain.Event
	Listings []domain.Listing
	Auctions []domain.Auction
	Bids     []domain.Bid
	Offers   []domain.Offer
}

// CommitHook is invoked once per committed top-level call. It must not call
// back into the ledger.
type CommitHook func(Commit)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger.With(slog.String("component", "ledger")) }
}

// WithCommitHook registers a hook called after every committed call.
func WithCommitHook(h CommitHook) Option {
	return func(l *Ledger) { l.hooks = append(l.hooks, h) }
}

// Ledger is the serialized escrow engine.
type Ledger struct {
	mu       sync.Mutex
	engine   domain.Address
	admin    domain.Address
	maxDepth int
	verifier SignatureVerifier
	clock    Clock
	logger   *slog.Logger
	hooks    []CommitHook

	// tx is the journal of the in-flight call, nil between calls.
	tx *txn
	st *state

	// seq is the newest committed event sequence, readable without the lock.
	seq atomic.Uint64
}

// New builds a Ledger. The verifier checks settlement signatures against the
// trusted signer.
func New(cfg Config, verifier SignatureVerifier, opts ...Option) (*Ledger, error) {
	if cfg.Engine == domain.ZeroAddress {
		return nil, fmt.Errorf("ledger: engine address: %w", domain.ErrZeroAddress)
	}
	if cfg.Admin == domain.ZeroAddress {
		return nil, fmt.Errorf("ledger: admin address: %w", domain.ErrZeroAddress)
	}
	if cfg.PlatformFeeBps > domain.MaxFeeBps || cfg.OfferFeeBps > domain.MaxFeeBps {
		return nil, fmt.Errorf("ledger: %w", domain.ErrFeeTooHigh)
	}
	if cfg.Limits == (domain.Limits{}) {
		cfg.Limits = domain.DefaultLimits()
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}

	l := &Ledger{
		engine:   cfg.Engine,
		admin:    cfg.Admin,
		maxDepth: cfg.MaxCallDepth,
		verifier: verifier,
		clock:    systemClock{},
		logger:   slog.Default().With(slog.String("component", "ledger")),
		st:       newState(cfg),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Engine returns the engine's own account address.
func (l *Ledger) Engine() domain.Address { return l.engine }

// Admin returns the administrative account.
func (l *Ledger) Admin() domain.Address { return l.admin }

type frameKey struct{}

// frame is one level of an in-flight call. Receiver hooks get a context
// carrying the frame of the call that triggered them; engine calls made with
// that context run nested inside it.
type frame struct {
	l      *Ledger
	depth  int
	now    time.Time
	closed atomic.Bool
}

func frameFrom(ctx context.Context, l *Ledger) *frame {
	f, ok := ctx.Value(frameKey{}).(*frame)
	if !ok || f.l != l || f.closed.Load() {
		return nil
	}
	return f
}

// read runs fn against the ledger state. A context carrying an open frame
// comes from a receiver hook inside an in-flight call: the lock is already
// held by that call and fn sees its state as of the hook.
func (l *Ledger) read(ctx context.Context, fn func()) {
	if frameFrom(ctx, l) != nil {
		fn()
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// callCtx is the per-call view every operation body runs against.
type callCtx struct {
	l      *Ledger
	ctx    context.Context
	f      *frame
	caller domain.Address
	value  *big.Int // native value attached and not yet consumed
	now    time.Time
}

// exec runs fn as one call. A context carrying an open frame of this ledger
// means the caller is a receiver hook inside an in-flight call; the call then
// nests under a savepoint instead of taking the lock.
func (l *Ledger) exec(ctx context.Context, op string, call Call, fn func(c *callCtx) error) error {
	if parent := frameFrom(ctx, l); parent != nil {
		return l.nested(ctx, parent, op, call, fn)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.tx = newTxn()
	defer func() { l.tx = nil }()

	f := &frame{l: l, now: l.clock.Now()}
	err := l.run(ctx, f, call, fn)
	f.closed.Store(true)
	if err != nil {
		l.tx.rollback()
		l.logger.Debug("ledger: call rejected",
			slog.String("op", op),
			slog.String("caller", call.Caller.Hex()),
			slog.String("class", domain.Class(err)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ledger: %s: %w", op, err)
	}

	commit := l.commit(op, call.Caller)
	l.logger.Debug("ledger: call committed",
		slog.String("op", op),
		slog.String("caller", call.Caller.Hex()),
		slog.Int("events", len(commit.Events)),
	)
	for _, h := range l.hooks {
		h(commit)
	}
	return nil
}

func (l *Ledger) nested(ctx context.Context, parent *frame, op string, call Call, fn func(c *callCtx) error) error {
	child := &frame{l: l, depth: parent.depth + 1, now: parent.now}
	if child.depth > l.maxDepth {
		return fmt.Errorf("ledger: %s: %w", op, domain.ErrCallTooDeep)
	}
	sp := l.tx.savepoint()
	err := l.run(ctx, child, call, fn)
	child.closed.Store(true)
	if err != nil {
		l.tx.rollbackTo(sp)
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	return nil
}

func (l *Ledger) run(ctx context.Context, f *frame, call Call, fn func(c *callCtx) error) error {
	if call.Caller == domain.ZeroAddress {
		return fmt.Errorf("caller: %w", domain.ErrZeroAddress)
	}
	c := &callCtx{
		l:      l,
		ctx:    context.WithValue(ctx, frameKey{}, f),
		f:      f,
		caller: call.Caller,
		value:  domain.CloneInt(call.Value),
		now:    f.now,
	}
	if c.value.Sign() < 0 {
		return fmt.Errorf("%w: negative value", domain.ErrValidation)
	}
	if c.value.Sign() > 0 {
		if err := l.transferPayment(domain.Native(), c.caller, l.engine, c.value); err != nil {
			return err
		}
	}
	if err := fn(c); err != nil {
		return err
	}
	if c.value.Sign() != 0 {
		return domain.ErrUnexpectedValue
	}
	return nil
}

// collect takes payment of amount from the caller into the engine. Native
// payment must match the attached value exactly; token payment is pulled from
// the caller's balance.
func (c *callCtx) collect(method domain.PaymentMethod, amount *big.Int) error {
	if method.IsNative() {
		if c.value.Cmp(amount) != 0 {
			return fmt.Errorf("%w: want %s, attached %s", domain.ErrPaymentMismatch, amount, c.value)
		}
		c.value = new(big.Int)
		return nil
	}
	return c.l.transferPayment(method, c.caller, c.l.engine, amount)
}

// Listing returns a copy of the listing with the given id.
func (l *Ledger) Listing(ctx context.Context, id uint64) (domain.Listing, error) {
	var (
		out domain.Listing
		err error
	)
	l.read(ctx, func() {
		if out, err = l.st.listing(id); err == nil {
			out = out.Clone()
		}
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("ledger: listing %d: %w", id, err)
	}
	return out, nil
}

// Auction returns a copy of the auction with the given id.
func (l *Ledger) Auction(ctx context.Context, id uint64) (domain.Auction, error) {
	var (
		out domain.Auction
		err error
	)
	l.read(ctx, func() {
		if out, err = l.st.auction(id); err == nil {
			out = out.Clone()
		}
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("ledger: auction %d: %w", id, err)
	}
	return out, nil
}

// Bid returns the latest bid of bidder on the auction.
func (l *Ledger) Bid(ctx context.Context, auctionID uint64, bidder domain.Address) (domain.Bid, error) {
	var (
		out domain.Bid
		ok  bool
	)
	l.read(ctx, func() {
		if out, ok = l.st.bids[bidKey{auction: auctionID, bidder: bidder}]; ok {
			out = out.Clone()
		}
	})
	if !ok {
		return domain.Bid{}, fmt.Errorf("ledger: bid %d/%s: %w", auctionID, bidder.Hex(), domain.ErrNotFound)
	}
	return out, nil
}

// Offer returns a copy of the offer with the given id.
func (l *Ledger) Offer(ctx context.Context, id uint64) (domain.Offer, error) {
	var (
		out domain.Offer
		err error
	)
	l.read(ctx, func() {
		if out, err = l.st.offer(id); err == nil {
			out = out.Clone()
		}
	})
	if err != nil {
		return domain.Offer{}, fmt.Errorf("ledger: offer %d: %w", id, err)
	}
	return out, nil
}

// FeeAccount returns the fee schedule and accrued platform revenue.
func (l *Ledger) FeeAccount(ctx context.Context) domain.FeeAccount {
	var out domain.FeeAccount
	l.read(ctx, func() { out = l.st.fees.Clone() })
	return out
}

// Limits returns the current duration and batch limits.
func (l *Ledger) Limits(ctx context.Context) domain.Limits {
	var out domain.Limits
	l.read(ctx, func() { out = l.st.limits })
	return out
}

// TrustedSigner returns the address whose authorizations Settle accepts.
func (l *Ledger) TrustedSigner(ctx context.Context) domain.Address {
	var out domain.Address
	l.read(ctx, func() { out = l.st.signer })
	return out
}
