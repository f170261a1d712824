package bond

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OwnerCapability authorises owner-gated operations on one bond. It can only
// be minted by Engine.OwnerCapability, so holding one proves the owner check
// already passed at the call boundary.
type OwnerCapability struct {
	bond  common.Address
	owner common.Address
}

// Bond returns the bond the capability is bound to.
func (c OwnerCapability) Bond() common.Address { return c.bond }

// Owner returns the authorised owner.
func (c OwnerCapability) Owner() common.Address { return c.owner }

// OwnerCapability issues a capability for caller when it is the bond owner.
func (e *Engine) OwnerCapability(caller common.Address) (OwnerCapability, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return OwnerCapability{}, err
	}
	if caller == (common.Address{}) || caller != b.Params.Owner {
		return OwnerCapability{}, fmt.Errorf("%w: %s is not the bond owner", ErrUnauthorized, caller.Hex())
	}
	return OwnerCapability{bond: b.Address, owner: b.Params.Owner}, nil
}

func (e *Engine) checkCapability(b *Bond, capability OwnerCapability) error {
	if capability.owner == (common.Address{}) || capability.bond != b.Address || capability.owner != b.Params.Owner {
		return fmt.Errorf("%w: capability not issued for bond %s", ErrUnauthorized, b.Address.Hex())
	}
	return nil
}
