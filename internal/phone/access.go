package phone

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorizedAccess is returned when a caller acts on a phone number that is not theirs.
var ErrUnauthorizedAccess = errors.New("unauthorized phone access")

// Directory resolves the registered phone number and role of a user.
type Directory interface {
	Phone(ctx context.Context, username string) (string, bool, error)
	IsAdmin(ctx context.Context, username string) (bool, error)
}

// Guard enforces that callers only pay from their own number unless they are administrators.
type Guard struct {
	dir Directory
}

// NewGuard returns a Guard backed by dir. A nil directory allows every caller.
func NewGuard(dir Directory) *Guard {
	return &Guard{dir: dir}
}

// AssertOwnedOrAdmin fails with ErrUnauthorizedAccess when phoneNumber differs
// from the caller's registered number and the caller is not an administrator.
// Callers without a registered number cannot be checked and are allowed.
func (g *Guard) AssertOwnedOrAdmin(ctx context.Context, caller, phoneNumber string) error {
	if g == nil || g.dir == nil {
		return nil
	}

	registered, ok, err := g.dir.Phone(ctx, caller)
	if err != nil {
		return fmt.Errorf("lookup phone for %q: %w", caller, err)
	}
	if !ok || registered == "" {
		return nil
	}
	if normalized, err := Normalize(registered); err == nil {
		registered = normalized
	}
	if registered == phoneNumber {
		return nil
	}

	admin, err := g.dir.IsAdmin(ctx, caller)
	if err != nil {
		return fmt.Errorf("lookup role for %q: %w", caller, err)
	}
	if admin {
		return nil
	}
	return fmt.Errorf("%w: %q may not pay from %s", ErrUnauthorizedAccess, caller, phoneNumber)
}
