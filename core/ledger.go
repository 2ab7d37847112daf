package core

import (
	"math/big"
	"sync"
	"time"

	"shadeledger/core/events"
	"shadeledger/core/lederr"
	"shadeledger/core/state"
	"shadeledger/native/bank"
	"shadeledger/native/fees"
	"shadeledger/native/invoice"
	"shadeledger/native/merchant"
	"shadeledger/native/roles"
	"shadeledger/native/settlement"
	"shadeledger/storage"
)

// TransferrerFactory builds the transfer collaborator for one ledger call,
// bound to that call's state manager so its writes share the call's
// atomicity. External collaborators may ignore the manager.
type TransferrerFactory func(m *state.Manager) settlement.Transferrer

// Ledger is the single entry point to the invoicing-and-settlement core.
// Every public operation runs under one exclusive lock and buffers its state
// writes in an overlay that commits only when the operation returns nil, so
// each call either fully commits or leaves no trace.
type Ledger struct {
	mu             sync.Mutex
	db             storage.Database
	emitter        events.Emitter
	newTransferrer TransferrerFactory
	feeCollector   [20]byte
	nowFn          func() int64
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithEmitter routes committed-call events to the provided emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

// WithNowFunc overrides the clock used to stamp payments.
func WithNowFunc(now func() int64) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// WithTransferrer replaces the default in-state balance book with an external
// transfer collaborator.
func WithTransferrer(factory TransferrerFactory) Option {
	return func(l *Ledger) {
		if factory != nil {
			l.newTransferrer = factory
		}
	}
}

// WithFeeCollector routes settlement fees to the provided address instead of
// the administrator.
func WithFeeCollector(addr [20]byte) Option {
	return func(l *Ledger) { l.feeCollector = addr }
}

// NewLedger creates a ledger over the provided database.
func NewLedger(db storage.Database, opts ...Option) *Ledger {
	l := &Ledger{
		db:      db,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		newTransferrer: func(m *state.Manager) settlement.Transferrer {
			return bank.NewBook(m)
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// captureEmitter buffers events raised during a call so they reach
// subscribers only after the call's writes have committed.
type captureEmitter struct {
	buffered []events.Event
}

func (c *captureEmitter) Emit(ev events.Event) {
	c.buffered = append(c.buffered, ev)
}

// withState runs fn against a fresh overlay-backed manager. Writes commit and
// buffered events flush only when fn returns nil.
func (l *Ledger) withState(fn func(m *state.Manager, em events.Emitter) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	overlay := state.NewOverlay(l.db)
	manager := state.NewManager(overlay)
	capture := &captureEmitter{}
	if err := fn(manager, capture); err != nil {
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	for _, ev := range capture.buffered {
		l.emitter.Emit(ev)
	}
	return nil
}

func requireAdmin(m *state.Manager, caller [20]byte) error {
	admin, ok, err := m.Admin()
	if err != nil {
		return err
	}
	if !ok {
		return lederr.ErrNotInitialized
	}
	if caller != admin {
		return lederr.ErrNotAuthorized
	}
	return nil
}

func requireInitialized(m *state.Manager) ([20]byte, error) {
	admin, ok, err := m.Admin()
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, lederr.ErrNotInitialized
	}
	return admin, nil
}

// Initialize sets the administrator address. It may run exactly once; the
// administrator is immutable afterwards.
func (l *Ledger) Initialize(admin [20]byte) error {
	return l.withState(func(m *state.Manager, _ events.Emitter) error {
		if _, ok, err := m.Admin(); err != nil {
			return err
		} else if ok {
			return lederr.ErrAlreadyInitialized
		}
		return m.SetAdmin(admin)
	})
}

// Admin returns the administrator address and whether it has been set.
func (l *Ledger) Admin() ([20]byte, bool, error) {
	var admin [20]byte
	var ok bool
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		admin, ok, err = m.Admin()
		return err
	})
	return admin, ok, err
}

// GrantRole assigns a role; administrator only.
func (l *Ledger) GrantRole(caller, target [20]byte, role roles.Role) error {
	return l.withState(func(m *state.Manager, em events.Emitter) error {
		engine := roles.NewEngine(m)
		engine.SetEmitter(em)
		return engine.Grant(caller, target, role)
	})
}

// RevokeRole removes a role; administrator only. Effective immediately for
// all subsequent privilege checks.
func (l *Ledger) RevokeRole(caller, target [20]byte, role roles.Role) error {
	return l.withState(func(m *state.Manager, em events.Emitter) error {
		engine := roles.NewEngine(m)
		engine.SetEmitter(em)
		return engine.Revoke(caller, target, role)
	})
}

// HasPrivilege reports whether the address is the administrator or holds a
// privileged role.
func (l *Ledger) HasPrivilege(addr [20]byte) (bool, error) {
	var privileged bool
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		privileged, err = roles.NewEngine(m).HasPrivilege(addr)
		return err
	})
	return privileged, err
}

// RegisterMerchant allocates the next merchant id for the address. No role is
// required, but the ledger must be initialized.
func (l *Ledger) RegisterMerchant(addr [20]byte) (*merchant.Merchant, error) {
	var record *merchant.Merchant
	err := l.withState(func(m *state.Manager, em events.Emitter) error {
		if _, err := requireInitialized(m); err != nil {
			return err
		}
		registry := merchant.NewRegistry(m)
		registry.SetEmitter(em)
		var err error
		record, err = registry.Register(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetMerchant returns the record for the provided merchant id.
func (l *Ledger) GetMerchant(id uint64) (*merchant.Merchant, error) {
	var record *merchant.Merchant
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		record, err = merchant.NewRegistry(m).Get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// IsMerchant reports address membership in the registry. Never fails.
func (l *Ledger) IsMerchant(addr [20]byte) bool {
	var registered bool
	_ = l.withState(func(m *state.Manager, _ events.Emitter) error {
		registered = merchant.NewRegistry(m).IsMerchant(addr)
		return nil
	})
	return registered
}

// MerchantCount returns the number of allocated merchant ids.
func (l *Ledger) MerchantCount() (uint64, error) {
	var count uint64
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		count, err = merchant.NewRegistry(m).Count()
		return err
	})
	return count, err
}

// SetMerchantActive flips the activation flag; administrator only.
func (l *Ledger) SetMerchantActive(caller [20]byte, id uint64, active bool) (*merchant.Merchant, error) {
	var record *merchant.Merchant
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		if err := requireAdmin(m, caller); err != nil {
			return err
		}
		var err error
		record, err = merchant.NewRegistry(m).SetActive(id, active)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CreateInvoice stores a pending invoice against a registered, active
// merchant. Any caller may create invoices; no role is required.
func (l *Ledger) CreateInvoice(merchantAddr [20]byte, description string, amount *big.Int, token [20]byte) (*invoice.Invoice, error) {
	var record *invoice.Invoice
	err := l.withState(func(m *state.Manager, em events.Emitter) error {
		if _, err := requireInitialized(m); err != nil {
			return err
		}
		registered, ok, err := merchant.NewRegistry(m).GetByAddress(merchantAddr)
		if err != nil {
			return err
		}
		if !ok || !registered.Active {
			return lederr.ErrMerchantNotFound
		}
		ledger := invoice.NewLedger(m)
		ledger.SetEmitter(em)
		record, err = ledger.Create(merchantAddr, description, amount, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetInvoice returns the record for the provided invoice id.
func (l *Ledger) GetInvoice(id uint64) (*invoice.Invoice, error) {
	var record *invoice.Invoice
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		record, err = invoice.NewLedger(m).Get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// InvoiceCount returns the number of allocated invoice ids.
func (l *Ledger) InvoiceCount() (uint64, error) {
	var count uint64
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		count, err = invoice.NewLedger(m).Count()
		return err
	})
	return count, err
}

// PayInvoice settles a pending invoice on behalf of the caller. The caller
// must hold settlement privilege and the ledger must not be paused.
func (l *Ledger) PayInvoice(caller [20]byte, invoiceID uint64) (*settlement.Receipt, error) {
	var receipt *settlement.Receipt
	err := l.withState(func(m *state.Manager, em events.Emitter) error {
		engine := settlement.NewEngine(m, roles.NewEngine(m), invoice.NewLedger(m), fees.NewTable(m), l.newTransferrer(m))
		engine.SetEmitter(em)
		engine.SetNowFunc(l.nowFn)
		engine.SetFeeCollector(l.feeCollector)
		var err error
		receipt, err = engine.Pay(caller, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// CancelInvoice moves a pending invoice to its cancelled terminal state. The
// caller must hold settlement privilege or be the invoice's merchant. The
// circuit breaker gates settlement only, so cancellation stays available
// while paused.
func (l *Ledger) CancelInvoice(caller [20]byte, invoiceID uint64) (*invoice.Invoice, error) {
	var record *invoice.Invoice
	err := l.withState(func(m *state.Manager, em events.Emitter) error {
		if _, err := requireInitialized(m); err != nil {
			return err
		}
		ledger := invoice.NewLedger(m)
		ledger.SetEmitter(em)
		inv, err := ledger.Get(invoiceID)
		if err != nil {
			return err
		}
		privileged, err := roles.NewEngine(m).HasPrivilege(caller)
		if err != nil {
			return err
		}
		if !privileged && caller != inv.Merchant {
			return lederr.ErrNotAuthorized
		}
		record, err = ledger.Cancel(invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AddAcceptedToken marks a token as accepted for settlement; administrator
// only.
func (l *Ledger) AddAcceptedToken(caller, token [20]byte) error {
	return l.withState(func(m *state.Manager, _ events.Emitter) error {
		if err := requireAdmin(m, caller); err != nil {
			return err
		}
		return fees.NewTable(m).AddAcceptedToken(token)
	})
}

// SetFee stores the flat settlement fee for an accepted token; administrator
// only.
func (l *Ledger) SetFee(caller, token [20]byte, amount *big.Int) error {
	return l.withState(func(m *state.Manager, _ events.Emitter) error {
		if err := requireAdmin(m, caller); err != nil {
			return err
		}
		return fees.NewTable(m).SetFee(token, amount)
	})
}

// GetFee resolves the fee configured for the token.
func (l *Ledger) GetFee(token [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		amount, err = fees.NewTable(m).Fee(token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// TokenAccepted reports whether the token is accepted for settlement.
func (l *Ledger) TokenAccepted(token [20]byte) (bool, error) {
	var accepted bool
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		accepted, err = fees.NewTable(m).Accepted(token)
		return err
	})
	return accepted, err
}

// Pause engages the circuit breaker; administrator only. Pausing a paused
// ledger is a no-op success.
func (l *Ledger) Pause(caller [20]byte) error {
	return l.setPaused(caller, true)
}

// Unpause disengages the circuit breaker; administrator only. Unpausing an
// unpaused ledger is a no-op success.
func (l *Ledger) Unpause(caller [20]byte) error {
	return l.setPaused(caller, false)
}

func (l *Ledger) setPaused(caller [20]byte, paused bool) error {
	return l.withState(func(m *state.Manager, em events.Emitter) error {
		if err := requireAdmin(m, caller); err != nil {
			return err
		}
		current, err := m.Paused()
		if err != nil {
			return err
		}
		if current == paused {
			return nil
		}
		if err := m.SetPaused(paused); err != nil {
			return err
		}
		em.Emit(events.PauseChanged{Paused: paused})
		return nil
	})
}

// Paused reports the circuit-breaker flag.
func (l *Ledger) Paused() (bool, error) {
	var paused bool
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		paused, err = m.Paused()
		return err
	})
	return paused, err
}

// Mint credits the default balance book; administrator only. Only meaningful
// while the default transfer collaborator is in use.
func (l *Ledger) Mint(caller, addr, token [20]byte, amount *big.Int) error {
	return l.withState(func(m *state.Manager, _ events.Emitter) error {
		if err := requireAdmin(m, caller); err != nil {
			return err
		}
		return bank.NewBook(m).Mint(addr, token, amount)
	})
}

// Balance reads the default balance book.
func (l *Ledger) Balance(addr, token [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := l.withState(func(m *state.Manager, _ events.Emitter) error {
		var err error
		amount, err = bank.NewBook(m).Balance(addr, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}
