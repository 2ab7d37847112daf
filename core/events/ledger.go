package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"shadeledger/core/types"
)

const (
	// TypeRoleGranted is emitted when the administrator grants a role.
	TypeRoleGranted = "roles.granted"
	// TypeRoleRevoked is emitted when the administrator revokes a role.
	TypeRoleRevoked = "roles.revoked"
	// TypeMerchantRegistered is emitted once a merchant id has been allocated.
	TypeMerchantRegistered = "merchant.registered"
	// TypeInvoiceCreated is emitted when a pending invoice is stored.
	TypeInvoiceCreated = "invoice.created"
	// TypeInvoicePaid is emitted after settlement marks an invoice paid.
	TypeInvoicePaid = "invoice.paid"
	// TypeInvoiceCancelled is emitted when a pending invoice is cancelled.
	TypeInvoiceCancelled = "invoice.cancelled"
	// TypePaused is emitted when the circuit breaker engages.
	TypePaused = "ledger.paused"
	// TypeUnpaused is emitted when the circuit breaker disengages.
	TypeUnpaused = "ledger.unpaused"
)

func attrAddress(raw [20]byte) string {
	return "0x" + hex.EncodeToString(raw[:])
}

func attrAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// RoleChanged captures a grant or revocation performed by the administrator.
type RoleChanged struct {
	Address [20]byte
	Role    string
	Granted bool
}

// EventType satisfies the events.Event interface.
func (e RoleChanged) EventType() string {
	if e.Granted {
		return TypeRoleGranted
	}
	return TypeRoleRevoked
}

// Event converts the payload into a wire-friendly representation.
func (e RoleChanged) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"address": attrAddress(e.Address),
		"role":    e.Role,
	}}
}

// MerchantRegistered announces a newly allocated merchant identity.
type MerchantRegistered struct {
	ID      uint64
	Address [20]byte
}

// EventType satisfies the events.Event interface.
func (MerchantRegistered) EventType() string { return TypeMerchantRegistered }

// Event converts the payload into a wire-friendly representation.
func (e MerchantRegistered) Event() *types.Event {
	return &types.Event{Type: TypeMerchantRegistered, Attributes: map[string]string{
		"id":      strconv.FormatUint(e.ID, 10),
		"address": attrAddress(e.Address),
	}}
}

// InvoiceCreated announces a freshly stored pending invoice.
type InvoiceCreated struct {
	ID       uint64
	Merchant [20]byte
	Amount   *big.Int
	Token    [20]byte
}

// EventType satisfies the events.Event interface.
func (InvoiceCreated) EventType() string { return TypeInvoiceCreated }

// Event converts the payload into a wire-friendly representation.
func (e InvoiceCreated) Event() *types.Event {
	return &types.Event{Type: TypeInvoiceCreated, Attributes: map[string]string{
		"id":       strconv.FormatUint(e.ID, 10),
		"merchant": attrAddress(e.Merchant),
		"amount":   attrAmount(e.Amount),
		"token":    attrAddress(e.Token),
	}}
}

// InvoicePaid announces a completed settlement.
type InvoicePaid struct {
	ID     uint64
	Payer  [20]byte
	Amount *big.Int
	Fee    *big.Int
	Token  [20]byte
	PaidAt int64
}

// EventType satisfies the events.Event interface.
func (InvoicePaid) EventType() string { return TypeInvoicePaid }

// Event converts the payload into a wire-friendly representation.
func (e InvoicePaid) Event() *types.Event {
	return &types.Event{Type: TypeInvoicePaid, Attributes: map[string]string{
		"id":     strconv.FormatUint(e.ID, 10),
		"payer":  attrAddress(e.Payer),
		"amount": attrAmount(e.Amount),
		"fee":    attrAmount(e.Fee),
		"token":  attrAddress(e.Token),
		"paidAt": strconv.FormatInt(e.PaidAt, 10),
	}}
}

// InvoiceCancelled announces a pending invoice moved to its cancelled
// terminal state.
type InvoiceCancelled struct {
	ID uint64
}

// EventType satisfies the events.Event interface.
func (InvoiceCancelled) EventType() string { return TypeInvoiceCancelled }

// Event converts the payload into a wire-friendly representation.
func (e InvoiceCancelled) Event() *types.Event {
	return &types.Event{Type: TypeInvoiceCancelled, Attributes: map[string]string{
		"id": strconv.FormatUint(e.ID, 10),
	}}
}

// PauseChanged captures a circuit-breaker toggle.
type PauseChanged struct {
	Paused bool
}

// EventType satisfies the events.Event interface.
func (e PauseChanged) EventType() string {
	if e.Paused {
		return TypePaused
	}
	return TypeUnpaused
}

// Event converts the payload into a wire-friendly representation.
func (e PauseChanged) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
}
