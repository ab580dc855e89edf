package accesscontrol

import "strings"

// Role values accepted at every boundary. Anything else is rejected
// before it reaches the store.
const (
	RoleAnalyst       = "analyst"
	RoleCEO           = "ceo"
	RoleTopManagement = "top_management"
)

const (
	ReasonAllow           = "ALLOW"
	ReasonRoleForbidden   = "ROLE_FORBIDDEN"
	ReasonOwnershipDenied = "OWNERSHIP_DENIED"
)

// Tier is a fixed set of roles permitted to reach an endpoint class.
type Tier []string

// The three tiers the API uses. Endpoint handlers never build ad-hoc
// role lists; they reference one of these.
var (
	TierAnalyst       = Tier{RoleAnalyst, RoleCEO, RoleTopManagement}
	TierCEO           = Tier{RoleCEO, RoleTopManagement}
	TierTopManagement = Tier{RoleTopManagement}
)

type Decision struct {
	Allowed bool
	Reason  string
}

func ValidRole(role string) bool {
	switch role {
	case RoleAnalyst, RoleCEO, RoleTopManagement:
		return true
	}
	return false
}

// RoleAllowed gates the endpoint class. It carries no resource context;
// row-level access is decided separately by OwnerAllowed so that future
// roles (e.g. a cross-company read-only auditor) can diverge on one
// check without touching the other.
func RoleAllowed(role string, tier Tier) Decision {
	role = strings.TrimSpace(role)
	for _, r := range tier {
		if r == role {
			return Decision{Allowed: true, Reason: ReasonAllow}
		}
	}
	return Decision{Allowed: false, Reason: ReasonRoleForbidden}
}

// OwnerAllowed gates the specific row. top_management sees every
// company; everyone else only the company they belong to. A user with
// no company assignment is denied everything row-scoped.
func OwnerAllowed(role string, userCompanyID *int64, resourceCompanyID int64) Decision {
	if role == RoleTopManagement {
		return Decision{Allowed: true, Reason: ReasonAllow}
	}
	if userCompanyID != nil && *userCompanyID == resourceCompanyID {
		return Decision{Allowed: true, Reason: ReasonAllow}
	}
	return Decision{Allowed: false, Reason: ReasonOwnershipDenied}
}
