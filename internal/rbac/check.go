package rbac

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Check returns nil when principal holds one of roles. An empty role list
// admits everyone.
func Check(principal auth.Principal, roles ...auth.Role) error {
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if principal.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q may not perform this action", shared.ErrForbidden, principal.Role)
}

// Allowed reports whether principal holds c.
func Allowed(principal auth.Principal, c Capability) bool {
	return Check(principal, roleSets[c]...) == nil
}
