package haltty

import "testing"

func TestRolesRegistered(t *testing.T) {
	for _, role := range []string{roleStub, roleSlaveStop} {
		if _, ok := roles[role]; !ok {
			t.Fatalf("role %q is not registered", role)
		}
	}
}

func TestInitIgnoresOrdinaryArgs0(t *testing.T) {
	// Init must be a no-op (return normally) whenever Args[0] does not
	// match a registered role; this is exercised implicitly by every
	// other test in this package actually reaching TestMain's m.Run(),
	// but is asserted directly here for the role-dispatch table itself.
	if _, ok := roles["not-a-real-role"]; ok {
		t.Fatal("unexpected role registered for an arbitrary string")
	}
}
