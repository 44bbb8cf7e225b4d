package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every engine failure wraps exactly one of these so callers can
// classify it with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrState         = errors.New("state error")
	ErrAuthorization = errors.New("authorization error")
	ErrPayment       = errors.New("payment error")
	ErrSettlement    = errors.New("settlement error")
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")
)

// Validation failures are rejected before any state change.
var (
	ErrZeroPrice           = fmt.Errorf("%w: price must be positive", ErrValidation)
	ErrDurationOutOfBounds = fmt.Errorf("%w: duration out of bounds", ErrValidation)
	ErrReserveBelowStart   = fmt.Errorf("%w: reserve price below starting price", ErrValidation)
	ErrEmptyBatch          = fmt.Errorf("%w: empty batch", ErrValidation)
	ErrBatchTooLarge       = fmt.Errorf("%w: batch exceeds limit", ErrValidation)
	ErrLengthMismatch      = fmt.Errorf("%w: array length mismatch", ErrValidation)
	ErrFeeTooHigh          = fmt.Errorf("%w: fee above maximum", ErrValidation)
	ErrInvalidExpiry       = fmt.Errorf("%w: invalid expiry", ErrValidation)
	ErrZeroAddress         = fmt.Errorf("%w: zero address", ErrValidation)
	ErrInvalidLimits       = fmt.Errorf("%w: invalid limits", ErrValidation)
	ErrSelfTrade           = fmt.Errorf("%w: buyer and seller are the same account", ErrValidation)
	ErrDuplicateID         = fmt.Errorf("%w: duplicate id", ErrValidation)
)

// State failures: the entity exists but cannot take the requested transition.
var (
	ErrNotActive      = fmt.Errorf("%w: not active", ErrState)
	ErrExpired        = fmt.Errorf("%w: expired", ErrState)
	ErrNotEnded       = fmt.Errorf("%w: not ended yet", ErrState)
	ErrNotExpired     = fmt.Errorf("%w: not expired yet", ErrState)
	ErrTerminal       = fmt.Errorf("%w: already terminal", ErrState)
	ErrBidTooLow      = fmt.Errorf("%w: bid too low", ErrState)
	ErrAssetInEscrow  = fmt.Errorf("%w: asset already in escrow", ErrState)
	ErrCallTooDeep    = fmt.Errorf("%w: call depth exceeded", ErrState)
	ErrAssetNotOwned  = fmt.Errorf("%w: asset not held by owner", ErrState)
	ErrUnknownAsset   = fmt.Errorf("%w: unknown asset", ErrState)
	ErrEntityNotFound = fmt.Errorf("%w: %w", ErrState, ErrNotFound)
)

// Authorization failures: wrong caller or a signature that does not verify.
var (
	ErrNotSeller       = fmt.Errorf("%w: caller is not the seller", ErrAuthorization)
	ErrNotOwner        = fmt.Errorf("%w: caller is not the asset owner", ErrAuthorization)
	ErrNotOfferMaker   = fmt.Errorf("%w: caller is not the offer maker", ErrAuthorization)
	ErrNotAdmin        = fmt.Errorf("%w: caller is not the admin", ErrAuthorization)
	ErrNotApproved     = fmt.Errorf("%w: engine is not an approved operator", ErrAuthorization)
	ErrBadSignature    = fmt.Errorf("%w: signature does not verify", ErrAuthorization)
	ErrSignerNotSet    = fmt.Errorf("%w: trusted signer not configured", ErrAuthorization)
	ErrNotTransferable = fmt.Errorf("%w: asset not transferable from caller", ErrAuthorization)
)

// Payment failures.
var (
	ErrPaymentMismatch   = fmt.Errorf("%w: payment does not match price", ErrPayment)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrPayment)
	ErrUnexpectedValue   = fmt.Errorf("%w: call does not accept native value", ErrPayment)
	ErrNothingToWithdraw = fmt.Errorf("%w: amount exceeds accumulated fees", ErrPayment)
)

// Settlement failures: the asset transfer itself could not complete.
var (
	ErrNotInCustody     = fmt.Errorf("%w: asset not in custody", ErrSettlement)
	ErrReceiverRejected = fmt.Errorf("%w: recipient rejected the asset", ErrSettlement)
)

// Class returns the name of the error class err belongs to, or "internal" when
// it wraps none of them.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrPayment):
		return "payment"
	case errors.Is(err, ErrSettlement):
		return "settlement"
	default:
		return "internal"
	}
}
