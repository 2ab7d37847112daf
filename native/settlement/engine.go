// Package settlement implements the orchestrator behind pay_invoice_admin:
// circuit-breaker check, caller-role check, invoice lookup, status check,
// token transfer and the Paid transition, in that order.
package settlement

import (
	"errors"
	"math/big"
	"time"

	"shadeledger/core/events"
	"shadeledger/core/lederr"
	"shadeledger/native/invoice"
)

var errNilState = errors.New("settlement engine: state not configured")

type engineState interface {
	Admin() ([20]byte, bool, error)
	Paused() (bool, error)
}

// Authorizer answers settlement-privilege queries. Authorization is strictly
// role-based: the invoice's own merchant or payer gets no implicit access.
type Authorizer interface {
	HasPrivilege(addr [20]byte) (bool, error)
}

// InvoiceLedger is the slice of the invoice state machine the orchestrator
// drives.
type InvoiceLedger interface {
	Get(id uint64) (*invoice.Invoice, error)
	MarkPaid(id uint64, payer [20]byte, paidAt int64) (*invoice.Invoice, error)
}

// FeeTable resolves the per-token acceptance flag and flat fee.
type FeeTable interface {
	Accepted(token [20]byte) (bool, error)
	Fee(token [20]byte) (*big.Int, error)
}

// Transferrer executes the value movement backing a settlement. It must be
// side-effect free on failure; when it writes through the call's state
// overlay that holds by construction.
type Transferrer interface {
	Transfer(from, to [20]byte, token [20]byte, amount *big.Int) error
}

// Receipt summarises a completed settlement.
type Receipt struct {
	Invoice *invoice.Invoice
	Fee     *big.Int
	Total   *big.Int
}

// Engine wires the settlement checks with the collaborating components.
type Engine struct {
	state        engineState
	authorizer   Authorizer
	invoices     InvoiceLedger
	fees         FeeTable
	transferrer  Transferrer
	feeCollector [20]byte
	emitter      events.Emitter
	nowFn        func() int64
}

// NewEngine creates a settlement engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(state engineState, authorizer Authorizer, invoices InvoiceLedger, fees FeeTable, transferrer Transferrer) *Engine {
	return &Engine{
		state:       state,
		authorizer:  authorizer,
		invoices:    invoices,
		fees:        fees,
		transferrer: transferrer,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetFeeCollector configures the address that receives settlement fees. When
// unset, fees route to the administrator.
func (e *Engine) SetFeeCollector(addr [20]byte) { e.feeCollector = addr }

// SetNowFunc overrides the time source used to stamp payments. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Pay settles the invoice on behalf of the caller. The pause check runs
// before the role check so a paused ledger answers every caller identically;
// steps before the transfer are pure precondition checks and a failed
// transfer aborts the call with no observable mutation.
func (e *Engine) Pay(caller [20]byte, invoiceID uint64) (*Receipt, error) {
	if e == nil || e.state == nil || e.authorizer == nil || e.invoices == nil || e.fees == nil || e.transferrer == nil {
		return nil, errNilState
	}
	paused, err := e.state.Paused()
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, lederr.ErrContractPaused
	}
	admin, ok, err := e.state.Admin()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lederr.ErrNotInitialized
	}
	privileged, err := e.authorizer.HasPrivilege(caller)
	if err != nil {
		return nil, err
	}
	if !privileged {
		return nil, lederr.ErrNotAuthorized
	}
	inv, err := e.invoices.Get(invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != invoice.StatusPending {
		return nil, lederr.ErrInvalidInvoiceStatus
	}
	accepted, err := e.fees.Accepted(inv.Token)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, lederr.ErrTokenNotAccepted
	}
	fee, err := e.fees.Fee(inv.Token)
	if err != nil {
		return nil, err
	}
	if err := e.transfer(caller, inv.Merchant, inv.Token, inv.Amount); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		collector := e.feeCollector
		if collector == ([20]byte{}) {
			collector = admin
		}
		if err := e.transfer(caller, collector, inv.Token, fee); err != nil {
			return nil, err
		}
	}
	paid, err := e.invoices.MarkPaid(invoiceID, caller, e.now())
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(events.InvoicePaid{
		ID:     paid.ID,
		Payer:  caller,
		Amount: paid.Amount,
		Fee:    fee,
		Token:  paid.Token,
		PaidAt: int64(paid.PaidAt),
	})
	total := new(big.Int).Add(paid.Amount, fee)
	return &Receipt{Invoice: paid, Fee: fee, Total: total}, nil
}

// transfer funnels collaborator failures into the taxonomy: errors already
// carrying a code pass through, anything else surfaces as TransferFailed.
func (e *Engine) transfer(from, to [20]byte, token [20]byte, amount *big.Int) error {
	err := e.transferrer.Transfer(from, to, token, amount)
	if err == nil {
		return nil
	}
	if _, ok := lederr.CodeOf(err); ok {
		return err
	}
	return lederr.ErrTransferFailed.Wrapf("%v", err)
}
