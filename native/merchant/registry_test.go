package merchant

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"shadeledger/core/lederr"
)

type memoryRegistryState struct {
	kv map[string][]byte
}

func newMemoryRegistryState() *memoryRegistryState {
	return &memoryRegistryState{kv: make(map[string][]byte)}
}

func (m *memoryRegistryState) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryRegistryState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestRegisterAllocatesSequentialIDs(t *testing.T) {
	registry := NewRegistry(newMemoryRegistryState())

	first, err := registry.Register(testAddr(0x01))
	if err != nil {
		t.Fatalf("register first: %v", err)
	}
	if first.ID != 1 || !first.Active {
		t.Fatalf("unexpected first record: %+v", first)
	}

	second, err := registry.Register(testAddr(0x02))
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if second.ID != 2 {
		t.Fatalf("expected id 2, got %d", second.ID)
	}

	count, err := registry.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestRegisterDuplicateFailsWithoutMutation(t *testing.T) {
	registry := NewRegistry(newMemoryRegistryState())
	addr := testAddr(0x03)

	if _, err := registry.Register(addr); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := registry.Register(addr); !errors.Is(err, lederr.ErrMerchantAlreadyRegistered) {
		t.Fatalf("expected MerchantAlreadyRegistered, got %v", err)
	}
	count, err := registry.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1 after duplicate attempt, got %d", count)
	}
}

func TestGetRejectsZeroAndUnknownIDs(t *testing.T) {
	registry := NewRegistry(newMemoryRegistryState())
	if _, err := registry.Register(testAddr(0x04)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := registry.Get(0); !errors.Is(err, lederr.ErrMerchantNotFound) {
		t.Fatalf("expected MerchantNotFound for id 0, got %v", err)
	}
	if _, err := registry.Get(99); !errors.Is(err, lederr.ErrMerchantNotFound) {
		t.Fatalf("expected MerchantNotFound for id 99, got %v", err)
	}

	record, err := registry.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Address != testAddr(0x04) {
		t.Fatalf("unexpected address: %x", record.Address)
	}
}

func TestIsMerchantMembership(t *testing.T) {
	registry := NewRegistry(newMemoryRegistryState())
	registered := testAddr(0x05)
	if _, err := registry.Register(registered); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !registry.IsMerchant(registered) {
		t.Fatalf("expected registered address to be a merchant")
	}
	if registry.IsMerchant(testAddr(0x06)) {
		t.Fatalf("expected unknown address to not be a merchant")
	}
}

func TestSetActiveFlipsFlagOnly(t *testing.T) {
	registry := NewRegistry(newMemoryRegistryState())
	addr := testAddr(0x07)
	if _, err := registry.Register(addr); err != nil {
		t.Fatalf("register: %v", err)
	}

	record, err := registry.SetActive(1, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if record.Active {
		t.Fatalf("expected inactive record")
	}
	if record.ID != 1 || record.Address != addr {
		t.Fatalf("deactivation mutated identity: %+v", record)
	}
	// The record survives deactivation, only the flag flips.
	if !registry.IsMerchant(addr) {
		t.Fatalf("deactivated merchant should keep registry membership")
	}
}

func TestGetByAddressResolvesRecord(t *testing.T) {
	registry := NewRegistry(newMemoryRegistryState())
	addr := testAddr(0x08)
	if _, err := registry.Register(addr); err != nil {
		t.Fatalf("register: %v", err)
	}

	record, ok, err := registry.GetByAddress(addr)
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if record.ID != 1 {
		t.Fatalf("unexpected id %d", record.ID)
	}

	if _, ok, err := registry.GetByAddress(testAddr(0x09)); err != nil || ok {
		t.Fatalf("expected no record for unknown address, ok=%v err=%v", ok, err)
	}
}
