// Package merchant implements the merchant registry: sequential identity
// allocation, id lookup and address membership checks.
package merchant

import (
	"encoding/hex"
	"errors"
	"fmt"

	"shadeledger/core/events"
	"shadeledger/core/lederr"
)

// Merchant is the stored record for a registered merchant. Ids are dense,
// start at 1 and are assigned exactly once per distinct address. Records are
// never deleted; deactivation only flips Active.
type Merchant struct {
	ID      uint64
	Address [20]byte
	Active  bool
}

// Clone returns a copy callers can mutate safely.
func (m *Merchant) Clone() *Merchant {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

var errNilState = errors.New("merchant registry: state not configured")

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func recordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("merchant/record/%d", id))
}

func addressKey(addr [20]byte) []byte {
	return []byte("merchant/addr/" + hex.EncodeToString(addr[:]))
}

var countKey = []byte("merchant/count")

// Registry persists merchant records over the keyed state accessor.
type Registry struct {
	state   registryState
	emitter events.Emitter
}

// NewRegistry constructs a registry backed by the provided state accessor.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Count returns the number of allocated merchant ids.
func (r *Registry) Count() (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	var count uint64
	ok, err := r.state.KVGet(countKey, &count)
	if err != nil || !ok {
		return 0, err
	}
	return count, nil
}

// Register allocates the next sequential id for the address and stores an
// active record. A second registration for the same address fails without
// mutating state.
func (r *Registry) Register(addr [20]byte) (*Merchant, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	exists, err := r.state.KVGet(addressKey(addr), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, lederr.ErrMerchantAlreadyRegistered
	}
	count, err := r.Count()
	if err != nil {
		return nil, err
	}
	record := &Merchant{ID: count + 1, Address: addr, Active: true}
	if err := r.state.KVPut(recordKey(record.ID), record); err != nil {
		return nil, err
	}
	if err := r.state.KVPut(addressKey(addr), record.ID); err != nil {
		return nil, err
	}
	if err := r.state.KVPut(countKey, record.ID); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.MerchantRegistered{ID: record.ID, Address: addr})
	return record.Clone(), nil
}

// Get returns the record for the provided id. Id zero is never valid and is
// reported as not found rather than a default record.
func (r *Registry) Get(id uint64) (*Merchant, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if id == 0 {
		return nil, lederr.ErrMerchantNotFound
	}
	var stored Merchant
	ok, err := r.state.KVGet(recordKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lederr.ErrMerchantNotFound
	}
	return &stored, nil
}

// GetByAddress resolves the record registered for the address, if any.
func (r *Registry) GetByAddress(addr [20]byte) (*Merchant, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	var id uint64
	ok, err := r.state.KVGet(addressKey(addr), &id)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := r.Get(id)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// IsMerchant reports address membership. Pure query, never fails: state read
// errors surface as false.
func (r *Registry) IsMerchant(addr [20]byte) bool {
	if r == nil || r.state == nil {
		return false
	}
	ok, err := r.state.KVGet(addressKey(addr), nil)
	if err != nil {
		return false
	}
	return ok
}

// SetActive flips the activation flag on an existing record.
func (r *Registry) SetActive(id uint64, active bool) (*Merchant, error) {
	record, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if record.Active == active {
		return record, nil
	}
	record.Active = active
	if err := r.state.KVPut(recordKey(record.ID), record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}
