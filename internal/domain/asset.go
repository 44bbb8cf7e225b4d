package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies an account, an asset contract or a fungible token.
type Address = common.Address

// ZeroAddress is the unset address. As a payment token it means native value.
var ZeroAddress = Address{}

// AssetRef points at one uniquely owned asset: a contract plus a token id.
type AssetRef struct {
	Contract Address  `json:"contract"`
	TokenID  *big.Int `json:"token_id"`
}

// NewAssetRef builds an AssetRef from a contract address and a numeric id.
func NewAssetRef(contract Address, tokenID int64) AssetRef {
	return AssetRef{Contract: contract, TokenID: big.NewInt(tokenID)}
}

// Key returns a stable map key for the asset.
func (a AssetRef) Key() string {
	id := "0"
	if a.TokenID != nil {
		id = a.TokenID.String()
	}
	return strings.ToLower(a.Contract.Hex()) + "/" + id
}

// String implements fmt.Stringer.
func (a AssetRef) String() string {
	return a.Key()
}

// Validate rejects refs without a contract or with a negative id.
func (a AssetRef) Validate() error {
	if a.Contract == ZeroAddress {
		return fmt.Errorf("%w: asset contract", ErrZeroAddress)
	}
	if a.TokenID == nil || a.TokenID.Sign() < 0 {
		return fmt.Errorf("%w: asset token id", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias the token id.
func (a AssetRef) Clone() AssetRef {
	return AssetRef{Contract: a.Contract, TokenID: cloneInt(a.TokenID)}
}

// PaymentMethod is either native value (zero token address) or a fungible
// token identified by its contract address.
type PaymentMethod struct {
	Token Address
}

// Native returns the native-value payment method.
func Native() PaymentMethod {
	return PaymentMethod{}
}

// TokenPayment returns a payment method denominated in the given token.
func TokenPayment(token Address) PaymentMethod {
	return PaymentMethod{Token: token}
}

// IsNative reports whether payment is made in native value.
func (p PaymentMethod) IsNative() bool {
	return p.Token == ZeroAddress
}

// String returns "native" or the token address.
func (p PaymentMethod) String() string {
	if p.IsNative() {
		return "native"
	}
	return strings.ToLower(p.Token.Hex())
}

// MarshalText encodes the method as "native" or a hex token address.
func (p PaymentMethod) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts "native", "" or a hex token address.
func (p *PaymentMethod) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || strings.EqualFold(s, "native") {
		*p = Native()
		return nil
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%w: payment token %q", ErrValidation, s)
	}
	*p = TokenPayment(common.HexToAddress(s))
	return nil
}

var _ json.Marshaler = (*Amount)(nil)

// Amount wraps *big.Int so monetary values cross JSON boundaries as decimal
// strings without losing precision.
type Amount struct {
	*big.Int
}

// NewAmount wraps v. A nil v is treated as zero.
func NewAmount(v *big.Int) Amount {
	if v == nil {
		return Amount{Int: new(big.Int)}
	}
	return Amount{Int: new(big.Int).Set(v)}
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(`"` + a.Int.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted or bare decimal integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		a.Int = new(big.Int)
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("%w: amount %q", ErrValidation, s)
	}
	a.Int = v
	return nil
}

// Big returns the wrapped value, never nil.
func (a Amount) Big() *big.Int {
	if a.Int == nil {
		return new(big.Int)
	}
	return a.Int
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// CloneInt returns a copy of v, or zero when v is nil.
func CloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
