package accesscontrol

import "testing"

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleAnalyst, RoleCEO, RoleTopManagement} {
		if !ValidRole(role) {
			t.Fatalf("expected %q to validate", role)
		}
	}
	for _, role := range []string{"", "admin", "Analyst", "TOP_MANAGEMENT", "auditor", "top management"} {
		if ValidRole(role) {
			t.Fatalf("expected %q to be rejected", role)
		}
	}
}

func TestRoleAllowedTiers(t *testing.T) {
	cases := []struct {
		role    string
		tier    Tier
		allowed bool
	}{
		{RoleAnalyst, TierAnalyst, true},
		{RoleCEO, TierAnalyst, true},
		{RoleTopManagement, TierAnalyst, true},
		{RoleAnalyst, TierCEO, false},
		{RoleCEO, TierCEO, true},
		{RoleTopManagement, TierCEO, true},
		{RoleAnalyst, TierTopManagement, false},
		{RoleCEO, TierTopManagement, false},
		{RoleTopManagement, TierTopManagement, true},
		{"admin", TierAnalyst, false},
		{"", TierTopManagement, false},
	}
	for _, tc := range cases {
		d := RoleAllowed(tc.role, tc.tier)
		if d.Allowed != tc.allowed {
			t.Fatalf("RoleAllowed(%q): got %v, want %v", tc.role, d.Allowed, tc.allowed)
		}
		if d.Allowed && d.Reason != ReasonAllow {
			t.Fatalf("allow decision carries reason %q", d.Reason)
		}
		if !d.Allowed && d.Reason != ReasonRoleForbidden {
			t.Fatalf("deny decision carries reason %q", d.Reason)
		}
	}
}

func TestOwnerAllowedTopManagementNeverDenied(t *testing.T) {
	for _, resource := range []int64{1, 2, 99} {
		if d := OwnerAllowed(RoleTopManagement, nil, resource); !d.Allowed {
			t.Fatalf("top_management denied for company %d: %+v", resource, d)
		}
	}
	one := int64(1)
	if d := OwnerAllowed(RoleTopManagement, &one, 2); !d.Allowed {
		t.Fatal("top_management with a company assignment still allowed everywhere")
	}
}

func TestOwnerAllowedCompanyScoped(t *testing.T) {
	one, two := int64(1), int64(2)
	for _, role := range []string{RoleAnalyst, RoleCEO} {
		if d := OwnerAllowed(role, &one, 1); !d.Allowed {
			t.Fatalf("%s denied own company: %+v", role, d)
		}
		d := OwnerAllowed(role, &one, 2)
		if d.Allowed {
			t.Fatalf("%s allowed foreign company", role)
		}
		if d.Reason != ReasonOwnershipDenied {
			t.Fatalf("wrong deny reason %q", d.Reason)
		}
		if d := OwnerAllowed(role, nil, 1); d.Allowed {
			t.Fatalf("%s with no company allowed row access", role)
		}
		if d := OwnerAllowed(role, &two, 1); d.Allowed {
			t.Fatalf("%s allowed mismatched company", role)
		}
	}
}
