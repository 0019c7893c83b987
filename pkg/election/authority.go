package election

import (
	"fmt"

	"election_ledger/pkg/identity"
)

// authority holds the single administrator principal
type authority struct {
	admin identity.Principal
}

func newAuthority(admin identity.Principal) (*authority, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("%w: administrator is empty", ErrInvalidAddress)
	}
	return &authority{admin: admin}, nil
}

func (a *authority) authorize(caller identity.Principal) error {
	if caller != a.admin {
		return ErrUnauthorized
	}
	return nil
}

// checkTransfer validates a handover to next without applying it
func (a *authority) checkTransfer(next identity.Principal) error {
	if next.IsZero() {
		return fmt.Errorf("%w: new administrator is empty", ErrInvalidAddress)
	}
	if next == a.admin {
		return ErrAlreadySame
	}
	return nil
}
