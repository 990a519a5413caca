package rbac

import "github.com/odyssey-erp/odyssey-stock/internal/auth"

// Capability names a group of operations guarded by the same role set.
type Capability string

const (
	CapPurchasing      Capability = "purchasing"
	CapSales           Capability = "sales"
	CapApprove         Capability = "approve"
	CapInventoryRead   Capability = "inventory.read"
	CapInventoryAdjust Capability = "inventory.adjust"
	CapReports         Capability = "reports"
	CapAdmin           Capability = "admin"
)

// roleSets maps each capability to the roles holding it.
var roleSets = map[Capability][]auth.Role{
	CapPurchasing:      {auth.RoleAdmin, auth.RoleManager, auth.RolePurchasing},
	CapSales:           {auth.RoleAdmin, auth.RoleManager, auth.RoleSales},
	CapApprove:         {auth.RoleAdmin, auth.RoleManager},
	CapInventoryRead:   {auth.RoleAdmin, auth.RoleManager, auth.RoleSales, auth.RolePurchasing},
	CapInventoryAdjust: {auth.RoleAdmin, auth.RoleManager},
	CapReports:         {auth.RoleAdmin, auth.RoleManager},
	CapAdmin:           {auth.RoleAdmin},
}

var capabilityOrder = []Capability{
	CapPurchasing, CapSales, CapApprove, CapInventoryRead, CapInventoryAdjust, CapReports, CapAdmin,
}

// Roles returns the roles granted c. Unknown capabilities grant nothing.
func Roles(c Capability) []auth.Role {
	roles := roleSets[c]
	out := make([]auth.Role, len(roles))
	copy(out, roles)
	return out
}

// Capabilities lists what role may do, in a stable order.
func Capabilities(role auth.Role) []Capability {
	var caps []Capability
	for _, c := range capabilityOrder {
		for _, r := range roleSets[c] {
			if r == role {
				caps = append(caps, c)
				break
			}
		}
	}
	return caps
}
