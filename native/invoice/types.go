package invoice

import "math/big"

// Status represents the lifecycle states of an invoice. Pending is the only
// non-terminal state: the record may move to Paid or Cancelled exactly once
// and never leaves a terminal state.
type Status uint8

const (
	StatusPending Status = iota
	StatusPaid
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPaid:
		return "paid"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Invoice is the stored record for a single invoice. Payer and PaidAt stay at
// their zero values until the Paid transition sets both together.
type Invoice struct {
	ID          uint64
	Merchant    [20]byte
	Description string
	Amount      *big.Int
	Token       [20]byte
	Status      Status
	Payer       [20]byte
	PaidAt      uint64
}

// Clone returns a deep copy of the invoice so callers can safely mutate the
// copy without affecting the stored instance.
func (i *Invoice) Clone() *Invoice {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Amount != nil {
		clone.Amount = new(big.Int).Set(i.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// HasPayer reports whether the Paid transition has stamped a payer.
func (i *Invoice) HasPayer() bool {
	return i != nil && i.Payer != ([20]byte{})
}
