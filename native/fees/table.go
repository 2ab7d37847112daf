// Package fees implements the per-token acceptance flag and flat settlement
// fee table. Accounting of collected fees is out of scope; the table only
// guarantees a fee amount is resolvable for every accepted token.
package fees

import (
	"encoding/hex"
	"errors"
	"math/big"

	"shadeledger/core/lederr"
)

var errNilState = errors.New("fee table: state not configured")

type tableState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func acceptedKey(token [20]byte) []byte {
	return []byte("fees/accepted/" + hex.EncodeToString(token[:]))
}

func amountKey(token [20]byte) []byte {
	return []byte("fees/amount/" + hex.EncodeToString(token[:]))
}

// Table persists the accepted-token set and fee amounts.
type Table struct {
	state tableState
}

// NewTable constructs a fee table backed by the provided state accessor.
func NewTable(state tableState) *Table {
	return &Table{state: state}
}

// AddAcceptedToken marks the token as accepted and seeds a zero fee so every
// accepted token always resolves to an amount. Idempotent: re-accepting keeps
// the configured fee.
func (t *Table) AddAcceptedToken(token [20]byte) error {
	if t == nil || t.state == nil {
		return errNilState
	}
	accepted, err := t.Accepted(token)
	if err != nil {
		return err
	}
	if accepted {
		return nil
	}
	if err := t.state.KVPut(acceptedKey(token), true); err != nil {
		return err
	}
	return t.state.KVPut(amountKey(token), big.NewInt(0))
}

// Accepted reports whether the token is accepted for settlement.
func (t *Table) Accepted(token [20]byte) (bool, error) {
	if t == nil || t.state == nil {
		return false, errNilState
	}
	var accepted bool
	ok, err := t.state.KVGet(acceptedKey(token), &accepted)
	if err != nil || !ok {
		return false, err
	}
	return accepted, nil
}

// SetFee stores the flat fee charged on top of every invoice settled in the
// token. The token must already be accepted.
func (t *Table) SetFee(token [20]byte, amount *big.Int) error {
	if t == nil || t.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return lederr.ErrInvalidAmount
	}
	accepted, err := t.Accepted(token)
	if err != nil {
		return err
	}
	if !accepted {
		return lederr.ErrTokenNotAccepted
	}
	return t.state.KVPut(amountKey(token), amount)
}

// Fee resolves the fee amount for the token. Tokens never accepted have no
// fee entry and report FeeNotSet.
func (t *Table) Fee(token [20]byte) (*big.Int, error) {
	if t == nil || t.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	ok, err := t.state.KVGet(amountKey(token), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lederr.ErrFeeNotSet
	}
	return amount, nil
}
