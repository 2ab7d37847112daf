// Package bank keeps a minimal per-address, per-token balance book. It backs
// the default settlement transfer collaborator; any external transfer
// implementation can replace it at the settlement boundary.
package bank

import (
	"encoding/hex"
	"errors"
	"math/big"

	"shadeledger/core/lederr"
)

var errNilState = errors.New("bank book: state not configured")

type bookState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func balanceKey(addr, token [20]byte) []byte {
	return []byte("bank/balance/" + hex.EncodeToString(token[:]) + "/" + hex.EncodeToString(addr[:]))
}

// Book persists balances over the keyed state accessor.
type Book struct {
	state bookState
}

// NewBook constructs a balance book backed by the provided state accessor.
func NewBook(state bookState) *Book {
	return &Book{state: state}
}

// Balance returns the stored balance, zero when absent.
func (b *Book) Balance(addr, token [20]byte) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	ok, err := b.state.KVGet(balanceKey(addr, token), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// Mint credits the address. Amount must be positive.
func (b *Book) Mint(addr, token [20]byte, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return lederr.ErrInvalidAmount
	}
	balance, err := b.Balance(addr, token)
	if err != nil {
		return err
	}
	return b.state.KVPut(balanceKey(addr, token), new(big.Int).Add(balance, amount))
}

// Transfer moves amount between addresses. A zero amount is a no-op; the
// call either applies both balance writes or none (state writes are buffered
// by the call overlay).
func (b *Book) Transfer(from, to [20]byte, token [20]byte, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return lederr.ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBalance, err := b.Balance(from, token)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return lederr.ErrInsufficientBalance
	}
	toBalance, err := b.Balance(to, token)
	if err != nil {
		return err
	}
	if err := b.state.KVPut(balanceKey(from, token), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return b.state.KVPut(balanceKey(to, token), new(big.Int).Add(toBalance, amount))
}
