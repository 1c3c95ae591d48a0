package access

import (
	"errors"
	"strings"

	"lendpool/crypto"
	nativecommon "lendpool/native/common"
)

// Role names referenced by the lending protocol.
const (
	RoleGovernance       = "governance"
	RoleStaker           = "staker"
	RolePauser           = "pauser"
	RoleTreasury         = "treasury"
	RoleLenderGovernance = "lender_governance"
)

var (
	ErrUnauthorized = errors.New("access: caller lacks required role")
	errEmptyRole    = errors.New("access: role must not be empty")
	errZeroAddress  = errors.New("access: zero address")
)

var (
	rolePrefix  = []byte("access/role/")
	pausePrefix = []byte("access/pause/")
)

// Checker is the capability-check port consumed by protocol components.
type Checker interface {
	HasRole(role string, addr crypto.Address) bool
}

// PoolRole scopes a role to a single pool instance.
func PoolRole(poolID, role string) string {
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return role
	}
	return poolID + "/" + role
}

// Registry stores role grants and module pause flags in protocol state.
type Registry struct {
	state nativecommon.KVState
}

// NewRegistry binds the registry to a state backend.
func NewRegistry(state nativecommon.KVState) *Registry {
	return &Registry{state: state}
}

func roleKey(role string, addr crypto.Address) []byte {
	buf := make([]byte, 0, len(rolePrefix)+len(role)+1+crypto.AddressLength)
	buf = append(buf, rolePrefix...)
	buf = append(buf, role...)
	buf = append(buf, ':')
	return append(buf, addr[:]...)
}

func pauseKey(module string) []byte {
	return append(append([]byte(nil), pausePrefix...), module...)
}

// Bootstrap grants the governance role without an authorising caller. It is
// intended for genesis wiring only.
func (r *Registry) Bootstrap(governance crypto.Address) error {
	return r.put(RoleGovernance, governance, true)
}

// HasRole implements Checker. Lookup failures are treated as a missing grant.
func (r *Registry) HasRole(role string, addr crypto.Address) bool {
	if r == nil || r.state == nil || addr.IsZero() {
		return false
	}
	var granted bool
	ok, err := r.state.KVGet(roleKey(role, addr), &granted)
	if err != nil || !ok {
		return false
	}
	return granted
}

// Grant assigns role to addr. Only governance may grant.
func (r *Registry) Grant(caller crypto.Address, role string, addr crypto.Address) error {
	if !r.HasRole(RoleGovernance, caller) {
		return ErrUnauthorized
	}
	return r.put(role, addr, true)
}

// Revoke removes role from addr. Only governance may revoke.
func (r *Registry) Revoke(caller crypto.Address, role string, addr crypto.Address) error {
	if !r.HasRole(RoleGovernance, caller) {
		return ErrUnauthorized
	}
	if strings.TrimSpace(role) == "" {
		return errEmptyRole
	}
	return r.state.KVDelete(roleKey(role, addr))
}

func (r *Registry) put(role string, addr crypto.Address, granted bool) error {
	if strings.TrimSpace(role) == "" {
		return errEmptyRole
	}
	if addr.IsZero() {
		return errZeroAddress
	}
	return r.state.KVPut(roleKey(role, addr), granted)
}

// IsPaused implements common.PauseView.
func (r *Registry) IsPaused(module string) bool {
	if r == nil || r.state == nil {
		return false
	}
	var paused bool
	ok, err := r.state.KVGet(pauseKey(module), &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}

// SetPaused toggles the pause flag for a module. Callers need the pauser or
// governance role.
func (r *Registry) SetPaused(caller crypto.Address, module string, paused bool) error {
	if !r.HasRole(RolePauser, caller) && !r.HasRole(RoleGovernance, caller) {
		return ErrUnauthorized
	}
	module = strings.TrimSpace(module)
	if module == "" {
		return errors.New("access: module must not be empty")
	}
	if !paused {
		return r.state.KVDelete(pauseKey(module))
	}
	return r.state.KVPut(pauseKey(module), true)
}
