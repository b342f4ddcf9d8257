// Package access implements the role capabilities checked by every
// administrative or maintenance command.
package access

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a capability granted to an account.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleKeeper Role = "keeper"
	RoleOracle Role = "oracle"
)

var (
	ErrUnauthorized    = errors.New("access: unauthorized")
	ErrNotBootstrapped = errors.New("access: owner not configured")
	ErrAlreadySet      = errors.New("access: owner already configured")
	ErrInvalidRole     = errors.New("access: invalid role")
	ErrZeroAddress     = errors.New("access: zero address")
)

var (
	ownerKey      = []byte("access/owner")
	rolePrefix    = "access/role/"
	errNilStateKV = errors.New("access: state not configured")
)

type kvStore interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVHas(key []byte) (bool, error)
	KVDelete(key []byte) error
}

// Valid reports whether the role is one of the known capabilities.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleKeeper, RoleOracle:
		return true
	default:
		return false
	}
}

// Registry stores the owner and role membership in state.
type Registry struct {
	state kvStore
}

// NewRegistry creates a registry bound to the supplied state.
func NewRegistry(state kvStore) *Registry {
	return &Registry{state: state}
}

func roleKey(role Role, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s/%x", rolePrefix, strings.ToLower(string(role)), addr.Bytes()))
}

// Bootstrap installs the first owner. It fails once an owner exists.
func (r *Registry) Bootstrap(owner common.Address) error {
	if r == nil || r.state == nil {
		return errNilStateKV
	}
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok, err := r.owner(); err != nil {
		return err
	} else if ok {
		return ErrAlreadySet
	}
	return r.state.KVPut(ownerKey, owner)
}

func (r *Registry) owner() (common.Address, bool, error) {
	var owner common.Address
	ok, err := r.state.KVGet(ownerKey, &owner)
	if err != nil {
		return common.Address{}, false, err
	}
	return owner, ok, nil
}

// Owner returns the configured owner.
func (r *Registry) Owner() (common.Address, error) {
	if r == nil || r.state == nil {
		return common.Address{}, errNilStateKV
	}
	owner, ok, err := r.owner()
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrNotBootstrapped
	}
	return owner, nil
}

// HasRole reports whether addr holds role. The owner implicitly holds
// RoleOwner only.
func (r *Registry) HasRole(role Role, addr common.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilStateKV
	}
	if role == RoleOwner {
		owner, ok, err := r.owner()
		if err != nil || !ok {
			return false, err
		}
		return owner == addr, nil
	}
	return r.state.KVHas(roleKey(role, addr))
}

// Require returns nil when addr holds any of the listed roles.
func (r *Registry) Require(addr common.Address, roles ...Role) error {
	for _, role := range roles {
		ok, err := r.HasRole(role, addr)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return fmt.Errorf("%w: %s requires %s", ErrUnauthorized, addr.Hex(), strings.Join(names, "|"))
}

// Grant adds role to addr. Only the owner may grant.
func (r *Registry) Grant(caller common.Address, role Role, addr common.Address) error {
	if err := r.Require(caller, RoleOwner); err != nil {
		return err
	}
	if !role.Valid() || role == RoleOwner {
		return ErrInvalidRole
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	return r.state.KVPut(roleKey(role, addr), true)
}

// Revoke removes role from addr. Only the owner may revoke.
func (r *Registry) Revoke(caller common.Address, role Role, addr common.Address) error {
	if err := r.Require(caller, RoleOwner); err != nil {
		return err
	}
	if !role.Valid() || role == RoleOwner {
		return ErrInvalidRole
	}
	return r.state.KVDelete(roleKey(role, addr))
}

// TransferOwnership hands the owner capability to next.
func (r *Registry) TransferOwnership(caller, next common.Address) error {
	if err := r.Require(caller, RoleOwner); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	return r.state.KVPut(ownerKey, next)
}
