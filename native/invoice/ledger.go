// Package invoice implements the invoice ledger state machine: sequential id
// allocation and the one-way Pending -> Paid / Pending -> Cancelled
// lifecycle.
package invoice

import (
	"errors"
	"fmt"
	"math/big"

	"shadeledger/core/events"
	"shadeledger/core/lederr"
)

var errNilState = errors.New("invoice ledger: state not configured")

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func recordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("invoice/record/%d", id))
}

var countKey = []byte("invoice/count")

// Ledger persists invoice records over the keyed state accessor.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger constructs an invoice ledger backed by the provided state
// accessor.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Count returns the number of allocated invoice ids. The counter is
// independent from the merchant counter.
func (l *Ledger) Count() (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	var count uint64
	ok, err := l.state.KVGet(countKey, &count)
	if err != nil || !ok {
		return 0, err
	}
	return count, nil
}

// Create allocates the next sequential invoice id and stores a pending record
// with no payer and no payment timestamp.
func (l *Ledger) Create(merchant [20]byte, description string, amount *big.Int, token [20]byte) (*Invoice, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, lederr.ErrInvalidAmount
	}
	count, err := l.Count()
	if err != nil {
		return nil, err
	}
	record := &Invoice{
		ID:          count + 1,
		Merchant:    merchant,
		Description: description,
		Amount:      new(big.Int).Set(amount),
		Token:       token,
		Status:      StatusPending,
	}
	if err := l.state.KVPut(recordKey(record.ID), record); err != nil {
		return nil, err
	}
	if err := l.state.KVPut(countKey, record.ID); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.InvoiceCreated{ID: record.ID, Merchant: merchant, Amount: record.Amount, Token: token})
	return record.Clone(), nil
}

// Get returns the record for the provided id, including id zero and ids
// beyond the allocated range as not found.
func (l *Ledger) Get(id uint64) (*Invoice, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if id == 0 {
		return nil, lederr.ErrInvoiceNotFound
	}
	var stored Invoice
	ok, err := l.state.KVGet(recordKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lederr.ErrInvoiceNotFound
	}
	if stored.Amount == nil {
		stored.Amount = big.NewInt(0)
	}
	return &stored, nil
}

// MarkPaid moves a pending invoice to Paid, stamping payer and payment time
// in the same write. Any non-pending status is rejected, as is a non-positive
// timestamp: a Paid record always carries both payer and payment time.
func (l *Ledger) MarkPaid(id uint64, payer [20]byte, paidAt int64) (*Invoice, error) {
	record, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPending {
		return nil, lederr.ErrInvalidInvoiceStatus
	}
	if paidAt <= 0 {
		return nil, fmt.Errorf("invoice: payment timestamp must be positive")
	}
	record.Status = StatusPaid
	record.Payer = payer
	record.PaidAt = uint64(paidAt)
	if err := l.state.KVPut(recordKey(record.ID), record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Cancel moves a pending invoice to Cancelled. Any non-pending status is
// rejected with the same error as a repeated payment attempt.
func (l *Ledger) Cancel(id uint64) (*Invoice, error) {
	record, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPending {
		return nil, lederr.ErrInvalidInvoiceStatus
	}
	record.Status = StatusCancelled
	if err := l.state.KVPut(recordKey(record.ID), record); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.InvoiceCancelled{ID: record.ID})
	return record.Clone(), nil
}
