// Package roles implements the privileged-role store. The administrator is a
// distinguished singleton held outside the role sets; every privileged action
// is open to the administrator without an explicit role entry.
package roles

import (
	"errors"
	"fmt"

	"shadeledger/core/events"
	"shadeledger/core/lederr"
)

// Role enumerates the delegated privileges the administrator can assign.
// The set is closed: extending it means adding a constant here, never passing
// free-form strings through the API.
type Role string

const (
	// RoleManager confers settlement privilege.
	RoleManager Role = "ROLE_MANAGER"
)

// privilegedRoles lists every role that grants settlement access.
var privilegedRoles = []Role{RoleManager}

// Valid reports whether the role is a known member of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleManager:
		return true
	default:
		return false
	}
}

var errNilState = errors.New("roles engine: state not configured")

type engineState interface {
	Admin() ([20]byte, bool, error)
	SetRole(role string, addr []byte) error
	RemoveRole(role string, addr []byte) error
	HasRole(role string, addr []byte) bool
}

// Engine wires the role store with external state and event emission.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a role engine bound to the provided state backend.
func NewEngine(state engineState) *Engine {
	return &Engine{state: state, emitter: events.NoopEmitter{}}
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

func (e *Engine) requireAdmin(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	admin, ok, err := e.state.Admin()
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

// Grant assigns the role to the target address. Only the administrator may
// call it; granting an already-held role is a no-op success.
func (e *Engine) Grant(caller, target [20]byte, role Role) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("roles: unknown role %q", string(role))
	}
	if e.state.HasRole(string(role), target[:]) {
		return nil
	}
	if err := e.state.SetRole(string(role), target[:]); err != nil {
		return err
	}
	e.emitter.Emit(events.RoleChanged{Address: target, Role: string(role), Granted: true})
	return nil
}

// Revoke removes the role from the target address. Only the administrator may
// call it; revoking an absent role is a no-op success. Revocation takes effect
// for every subsequent privilege check, there is no cached authorization.
func (e *Engine) Revoke(caller, target [20]byte, role Role) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("roles: unknown role %q", string(role))
	}
	if !e.state.HasRole(string(role), target[:]) {
		return nil
	}
	if err := e.state.RemoveRole(string(role), target[:]); err != nil {
		return err
	}
	e.emitter.Emit(events.RoleChanged{Address: target, Role: string(role), Granted: false})
	return nil
}

// HasPrivilege reports whether the address may initiate settlement: either it
// is the administrator or it holds at least one privileged role. Pure query.
func (e *Engine) HasPrivilege(addr [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	admin, ok, err := e.state.Admin()
	if err != nil {
		return false, err
	}
	if ok && addr == admin {
		return true, nil
	}
	for _, role := range privilegedRoles {
		if e.state.HasRole(string(role), addr[:]) {
			return true, nil
		}
	}
	return false, nil
}
