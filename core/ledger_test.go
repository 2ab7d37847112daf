package core

import (
	"errors"
	"math/big"
	"testing"

	"shadeledger/core/events"
	"shadeledger/core/lederr"
	"shadeledger/native/invoice"
	"shadeledger/native/roles"
	"shadeledger/storage"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

var (
	adminAddr    = addr(0x01)
	merchantAddr = addr(0x02)
	operatorAddr = addr(0x03)
	tokenAddr    = addr(0xA0)
)

type recordingEmitter struct {
	emitted []events.Event
}

func (r *recordingEmitter) Emit(ev events.Event) {
	r.emitted = append(r.emitted, ev)
}

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	opts = append([]Option{WithNowFunc(func() int64 { return 1700000000 })}, opts...)
	ledger := NewLedger(storage.NewMemDB(), opts...)
	if err := ledger.Initialize(adminAddr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return ledger
}

// seedSettlement registers the merchant, accepts the token and creates one
// pending invoice of 500 units with a fee of 25.
func seedSettlement(t *testing.T, ledger *Ledger) uint64 {
	t.Helper()
	if _, err := ledger.RegisterMerchant(merchantAddr); err != nil {
		t.Fatalf("register merchant: %v", err)
	}
	if err := ledger.AddAcceptedToken(adminAddr, tokenAddr); err != nil {
		t.Fatalf("accept token: %v", err)
	}
	if err := ledger.SetFee(adminAddr, tokenAddr, big.NewInt(25)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	created, err := ledger.CreateInvoice(merchantAddr, "consulting", big.NewInt(500), tokenAddr)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return created.ID
}

func TestInitializeOnce(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	if err := ledger.Initialize(adminAddr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := ledger.Initialize(addr(0x09)); !errors.Is(err, lederr.ErrAlreadyInitialized) {
		t.Fatalf("expected AlreadyInitialized, got %v", err)
	}
	stored, ok, err := ledger.Admin()
	if err != nil || !ok {
		t.Fatalf("admin: ok=%v err=%v", ok, err)
	}
	if stored != adminAddr {
		t.Fatalf("second initialize must not replace the administrator")
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	if _, err := ledger.RegisterMerchant(merchantAddr); !errors.Is(err, lederr.ErrNotInitialized) {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
	if err := ledger.GrantRole(adminAddr, operatorAddr, roles.RoleManager); !errors.Is(err, lederr.ErrNotInitialized) {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
	if _, err := ledger.PayInvoice(adminAddr, 1); !errors.Is(err, lederr.ErrNotInitialized) {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
}

func TestGrantedRoleCanSettle(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)

	if err := ledger.GrantRole(adminAddr, operatorAddr, roles.RoleManager); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if err := ledger.Mint(adminAddr, operatorAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	receipt, err := ledger.PayInvoice(operatorAddr, id)
	if err != nil {
		t.Fatalf("pay invoice: %v", err)
	}
	if receipt.Invoice.Status != invoice.StatusPaid || receipt.Invoice.Payer != operatorAddr {
		t.Fatalf("unexpected receipt: %+v", receipt.Invoice)
	}
	if receipt.Invoice.PaidAt != 1700000000 {
		t.Fatalf("expected injected clock stamp, got %d", receipt.Invoice.PaidAt)
	}
	if receipt.Total.Cmp(big.NewInt(525)) != 0 {
		t.Fatalf("expected total 525, got %s", receipt.Total)
	}

	merchantBalance, err := ledger.Balance(merchantAddr, tokenAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if merchantBalance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected merchant credit 500, got %s", merchantBalance)
	}
	// No collector configured, so the flat fee lands with the administrator.
	adminBalance, err := ledger.Balance(adminAddr, tokenAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if adminBalance.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("expected admin fee 25, got %s", adminBalance)
	}
}

func TestRevokedRoleCannotSettle(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)

	if err := ledger.GrantRole(adminAddr, operatorAddr, roles.RoleManager); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if err := ledger.RevokeRole(adminAddr, operatorAddr, roles.RoleManager); err != nil {
		t.Fatalf("revoke role: %v", err)
	}
	if err := ledger.Mint(adminAddr, operatorAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ledger.PayInvoice(operatorAddr, id); !errors.Is(err, lederr.ErrNotAuthorized) {
		t.Fatalf("expected NotAuthorized after revocation, got %v", err)
	}
	stored, err := ledger.GetInvoice(id)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if stored.Status != invoice.StatusPending {
		t.Fatalf("denied settlement must leave the invoice pending")
	}
}

func TestUnprivilegedCallersCannotSettle(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)
	if err := ledger.Mint(adminAddr, merchantAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Neither the invoice's own merchant nor an arbitrary funded address may
	// settle without a role.
	if _, err := ledger.PayInvoice(merchantAddr, id); !errors.Is(err, lederr.ErrNotAuthorized) {
		t.Fatalf("expected NotAuthorized for merchant, got %v", err)
	}
	if _, err := ledger.PayInvoice(addr(0x09), id); !errors.Is(err, lederr.ErrNotAuthorized) {
		t.Fatalf("expected NotAuthorized for stranger, got %v", err)
	}
}

func TestDuplicateMerchantRegistration(t *testing.T) {
	ledger := newTestLedger(t)

	first, err := ledger.RegisterMerchant(merchantAddr)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.ID != 1 {
		t.Fatalf("expected id 1, got %d", first.ID)
	}
	if _, err := ledger.RegisterMerchant(merchantAddr); !errors.Is(err, lederr.ErrMerchantAlreadyRegistered) {
		t.Fatalf("expected MerchantAlreadyRegistered, got %v", err)
	}
	count, err := ledger.MerchantCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("failed registration must not advance the counter, got %d", count)
	}
}

func TestMerchantLookupBounds(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.RegisterMerchant(merchantAddr); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := ledger.GetMerchant(0); !errors.Is(err, lederr.ErrMerchantNotFound) {
		t.Fatalf("expected MerchantNotFound for id 0, got %v", err)
	}
	if _, err := ledger.GetMerchant(2); !errors.Is(err, lederr.ErrMerchantNotFound) {
		t.Fatalf("expected MerchantNotFound past the range, got %v", err)
	}
	if !ledger.IsMerchant(merchantAddr) {
		t.Fatalf("expected registered address to be a merchant")
	}
	if ledger.IsMerchant(addr(0x09)) {
		t.Fatalf("expected unknown address to not be a merchant")
	}
}

func TestInvoiceIDsIndependentOfMerchantIDs(t *testing.T) {
	ledger := newTestLedger(t)
	other := addr(0x04)
	if _, err := ledger.RegisterMerchant(merchantAddr); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := ledger.RegisterMerchant(other); err != nil {
		t.Fatalf("register other: %v", err)
	}

	first, err := ledger.CreateInvoice(merchantAddr, "a", big.NewInt(10), tokenAddr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := ledger.CreateInvoice(other, "b", big.NewInt(20), tokenAddr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected invoice ids 1 and 2, got %d and %d", first.ID, second.ID)
	}
}

func TestSettlingOneInvoiceLeavesSiblingPending(t *testing.T) {
	ledger := newTestLedger(t)
	first := seedSettlement(t, ledger)
	second, err := ledger.CreateInvoice(merchantAddr, "retainer", big.NewInt(300), tokenAddr)
	if err != nil {
		t.Fatalf("create second invoice: %v", err)
	}
	if err := ledger.Mint(adminAddr, adminAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ledger.PayInvoice(adminAddr, first); err != nil {
		t.Fatalf("pay first: %v", err)
	}
	sibling, err := ledger.GetInvoice(second.ID)
	if err != nil {
		t.Fatalf("get sibling: %v", err)
	}
	if sibling.Status != invoice.StatusPending || sibling.HasPayer() || sibling.PaidAt != 0 {
		t.Fatalf("settling one invoice must not touch the other: %+v", sibling)
	}

	if _, err := ledger.CancelInvoice(adminAddr, second.ID); err != nil {
		t.Fatalf("cancel sibling: %v", err)
	}
	paid, err := ledger.GetInvoice(first)
	if err != nil {
		t.Fatalf("get paid: %v", err)
	}
	if paid.Status != invoice.StatusPaid || paid.Payer != adminAddr {
		t.Fatalf("cancelling one invoice must not touch the other: %+v", paid)
	}
}

func TestCreateInvoiceRequiresActiveMerchant(t *testing.T) {
	ledger := newTestLedger(t)

	if _, err := ledger.CreateInvoice(merchantAddr, "x", big.NewInt(10), tokenAddr); !errors.Is(err, lederr.ErrMerchantNotFound) {
		t.Fatalf("expected MerchantNotFound for unregistered payee, got %v", err)
	}

	record, err := ledger.RegisterMerchant(merchantAddr)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := ledger.SetMerchantActive(adminAddr, record.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := ledger.CreateInvoice(merchantAddr, "x", big.NewInt(10), tokenAddr); !errors.Is(err, lederr.ErrMerchantNotFound) {
		t.Fatalf("expected MerchantNotFound for deactivated payee, got %v", err)
	}
}

func TestFreshInvoiceShape(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)

	stored, err := ledger.GetInvoice(id)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if stored.Status != invoice.StatusPending || stored.HasPayer() || stored.PaidAt != 0 {
		t.Fatalf("fresh invoice must be pending with no payer and no time: %+v", stored)
	}
}

func TestTerminalInvoiceRejectsResubmission(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)
	if err := ledger.Mint(adminAddr, adminAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ledger.PayInvoice(adminAddr, id); err != nil {
		t.Fatalf("pay: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := ledger.PayInvoice(adminAddr, id); !errors.Is(err, lederr.ErrInvalidInvoiceStatus) {
			t.Fatalf("expected InvalidInvoiceStatus, got %v", err)
		}
	}
	if _, err := ledger.CancelInvoice(adminAddr, id); !errors.Is(err, lederr.ErrInvalidInvoiceStatus) {
		t.Fatalf("expected InvalidInvoiceStatus cancelling a paid invoice, got %v", err)
	}
}

func TestCancelledInvoiceCannotBePaid(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)
	if err := ledger.Mint(adminAddr, adminAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ledger.CancelInvoice(adminAddr, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := ledger.PayInvoice(adminAddr, id); !errors.Is(err, lederr.ErrInvalidInvoiceStatus) {
		t.Fatalf("expected InvalidInvoiceStatus, got %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)

	if _, err := ledger.CancelInvoice(addr(0x09), id); !errors.Is(err, lederr.ErrNotAuthorized) {
		t.Fatalf("expected NotAuthorized for stranger, got %v", err)
	}
	// The invoice's merchant may withdraw its own invoice.
	if _, err := ledger.CancelInvoice(merchantAddr, id); err != nil {
		t.Fatalf("merchant cancel: %v", err)
	}
}

func TestPauseBlocksSettlementForEveryone(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)
	if err := ledger.Mint(adminAddr, adminAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ledger.Pause(adminAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := ledger.PayInvoice(adminAddr, id); !errors.Is(err, lederr.ErrContractPaused) {
		t.Fatalf("expected ContractPaused for admin, got %v", err)
	}
	// Repeated pause is a no-op, not an error.
	if err := ledger.Pause(adminAddr); err != nil {
		t.Fatalf("repeated pause: %v", err)
	}

	if err := ledger.Unpause(adminAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := ledger.PayInvoice(adminAddr, id); err != nil {
		t.Fatalf("pay after unpause: %v", err)
	}
}

func TestPauseRequiresAdmin(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Pause(operatorAddr); !errors.Is(err, lederr.ErrNotAuthorized) {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
	paused, err := ledger.Paused()
	if err != nil {
		t.Fatalf("paused: %v", err)
	}
	if paused {
		t.Fatalf("denied pause must not engage the breaker")
	}
}

func TestCancelStaysAvailableWhilePaused(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)
	if err := ledger.Pause(adminAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := ledger.CancelInvoice(merchantAddr, id); err != nil {
		t.Fatalf("cancel while paused: %v", err)
	}
}

func TestFailedSettlementLeavesNoTrace(t *testing.T) {
	ledger := newTestLedger(t)
	id := seedSettlement(t, ledger)
	// 500 covers the invoice but not the 25 fee, so the call fails after the
	// first transfer already ran inside the overlay.
	if err := ledger.Mint(adminAddr, adminAddr, tokenAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ledger.PayInvoice(adminAddr, id); !errors.Is(err, lederr.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}

	stored, err := ledger.GetInvoice(id)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if stored.Status != invoice.StatusPending || stored.HasPayer() {
		t.Fatalf("failed settlement must leave the invoice untouched: %+v", stored)
	}
	payerBalance, err := ledger.Balance(adminAddr, tokenAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if payerBalance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("failed settlement must not move funds, got %s", payerBalance)
	}
	merchantBalance, err := ledger.Balance(merchantAddr, tokenAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if merchantBalance.Sign() != 0 {
		t.Fatalf("failed settlement must not credit the merchant, got %s", merchantBalance)
	}
}

func TestFeeConfiguration(t *testing.T) {
	ledger := newTestLedger(t)

	if err := ledger.SetFee(adminAddr, tokenAddr, big.NewInt(10)); !errors.Is(err, lederr.ErrTokenNotAccepted) {
		t.Fatalf("expected TokenNotAccepted before acceptance, got %v", err)
	}
	if _, err := ledger.GetFee(tokenAddr); !errors.Is(err, lederr.ErrFeeNotSet) {
		t.Fatalf("expected FeeNotSet for unknown token, got %v", err)
	}

	if err := ledger.AddAcceptedToken(operatorAddr, tokenAddr); !errors.Is(err, lederr.ErrNotAuthorized) {
		t.Fatalf("expected NotAuthorized for non-admin, got %v", err)
	}
	if err := ledger.AddAcceptedToken(adminAddr, tokenAddr); err != nil {
		t.Fatalf("accept token: %v", err)
	}
	accepted, err := ledger.TokenAccepted(tokenAddr)
	if err != nil || !accepted {
		t.Fatalf("expected accepted token, ok=%v err=%v", accepted, err)
	}
	fee, err := ledger.GetFee(tokenAddr)
	if err != nil {
		t.Fatalf("get fee: %v", err)
	}
	if fee.Sign() != 0 {
		t.Fatalf("expected seeded zero fee, got %s", fee)
	}
}

func TestEventsFlushAfterCommitOnly(t *testing.T) {
	recorder := &recordingEmitter{}
	ledger := newTestLedger(t, WithEmitter(recorder))
	id := seedSettlement(t, ledger)
	if err := ledger.Mint(adminAddr, adminAddr, tokenAddr, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	before := len(recorder.emitted)
	if _, err := ledger.PayInvoice(adminAddr, id); !errors.Is(err, lederr.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
	if len(recorder.emitted) != before {
		t.Fatalf("failed call must not emit events")
	}

	if err := ledger.Mint(adminAddr, adminAddr, tokenAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ledger.PayInvoice(adminAddr, id); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if len(recorder.emitted) != before+1 {
		t.Fatalf("expected one settlement event, got %d new", len(recorder.emitted)-before)
	}
	if got := recorder.emitted[len(recorder.emitted)-1].EventType(); got != events.TypeInvoicePaid {
		t.Fatalf("unexpected event type %q", got)
	}
}
