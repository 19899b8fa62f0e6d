package rbac

// Role names. Keep these stable; they are part of the token contract.
const (
	RoleOwner      = "owner"
	RoleMarketer   = "marketer"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "support" // hidden role
)

// Role sets used by the campaign routes.
var (
	CampaignWriters = []string{RoleOwner, RoleMarketer}
	CampaignReaders = []string{RoleOwner, RoleMarketer, RoleAnalyst}
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupport }

func IsKnownRole(role string) bool {
	switch role {
	case RoleOwner, RoleMarketer, RoleAnalyst, RoleSuperAdmin, RoleSupport:
		return true
	default:
		return false
	}
}
