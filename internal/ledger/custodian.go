package ledger

import (
	"fmt"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// hold moves asset from its owner into engine custody. from must be the
// current owner and must have approved the engine as operator.
func (c *callCtx) hold(from domain.Address, asset domain.AssetRef) error {
	l := c.l
	if err := asset.Validate(); err != nil {
		return err
	}
	k := asset.Key()
	if _, held := l.st.custody[k]; held {
		return fmt.Errorf("%w: %s", domain.ErrAssetInEscrow, asset)
	}
	if err := l.checkTransferable(from, asset); err != nil {
		return err
	}
	l.setOwner(asset, l.engine)
	l.setCustody(asset, from, true)
	return nil
}

// release transfers an escrowed asset to to and runs the recipient's receiver
// hook, which may re-enter the engine. Callers must have finished every state
// change and payment for the entity before calling it.
func (c *callCtx) release(asset domain.AssetRef, to domain.Address) error {
	l := c.l
	k := asset.Key()
	if _, held := l.st.custody[k]; !held || l.st.owners[k] != l.engine {
		return fmt.Errorf("%w: %s", domain.ErrNotInCustody, asset)
	}
	l.setCustody(asset, domain.ZeroAddress, false)
	l.setOwner(asset, to)
	return c.notifyReceiver(l.engine, to, asset)
}

// deliver transfers an asset straight from its owner to a buyer without an
// escrow step. Ownership and approval are checked at transfer time.
func (c *callCtx) deliver(from, to domain.Address, asset domain.AssetRef) error {
	l := c.l
	if err := asset.Validate(); err != nil {
		return err
	}
	if err := l.checkTransferable(from, asset); err != nil {
		return err
	}
	l.setOwner(asset, to)
	return c.notifyReceiver(from, to, asset)
}

func (l *Ledger) checkTransferable(from domain.Address, asset domain.AssetRef) error {
	owner, ok := l.st.owners[asset.Key()]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAsset, asset)
	}
	if owner != from {
		return fmt.Errorf("%w: %s held by %s", domain.ErrNotTransferable, asset, owner.Hex())
	}
	if !l.st.approvals[from][l.engine] {
		return fmt.Errorf("%w: %s", domain.ErrNotApproved, from.Hex())
	}
	return nil
}

func (c *callCtx) notifyReceiver(from, to domain.Address, asset domain.AssetRef) error {
	r, ok := c.l.st.receivers[to]
	if !ok {
		return nil
	}
	if err := r.OnAssetReceived(c.ctx, from, asset.Clone()); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrReceiverRejected, to.Hex(), err)
	}
	return nil
}
