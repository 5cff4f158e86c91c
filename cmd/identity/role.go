package identity

import "strings"

// Role identifies a user's position in the platform hierarchy.
type Role string

const (
	RoleRider      Role = "rider"
	RoleVolunteer  Role = "volunteer"
	RolePolice     Role = "police"
	RoleCommander  Role = "commander"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// RoleLevel pairs a role with its rank. Higher levels are more privileged.
type RoleLevel struct {
	Role  Role
	Level int
}

// hierarchy is ordered by ascending level. All "at least X" computations are
// filters over this list.
var hierarchy = []RoleLevel{
	{Role: RoleRider, Level: 1},
	{Role: RoleVolunteer, Level: 2},
	{Role: RolePolice, Level: 3},
	{Role: RoleCommander, Level: 4},
	{Role: RoleAdmin, Level: 5},
	{Role: RoleSuperAdmin, Level: 6},
}

// Hierarchy returns a copy of the ordered role list.
func Hierarchy() []RoleLevel {
	out := make([]RoleLevel, len(hierarchy))
	copy(out, hierarchy)
	return out
}

// Level returns the hierarchy level of r, or 0 if r is unknown.
func (r Role) Level() int {
	for _, rl := range hierarchy {
		if rl.Role == r {
			return rl.Level
		}
	}
	return 0
}

// Valid reports whether r is part of the hierarchy.
func (r Role) Valid() bool { return r.Level() > 0 }

// AtLeast reports whether r ranks at or above min. Unknown roles never qualify.
func (r Role) AtLeast(min Role) bool {
	lr, lm := r.Level(), min.Level()
	return lr > 0 && lm > 0 && lr >= lm
}

// RolesAtLeast returns every role whose level is >= min's level, in hierarchy
// order. An unknown min yields nil.
func RolesAtLeast(min Role) []Role {
	lm := min.Level()
	if lm == 0 {
		return nil
	}
	var out []Role
	for _, rl := range hierarchy {
		if rl.Level >= lm {
			out = append(out, rl.Role)
		}
	}
	return out
}

// ParseRole parses a role name (case-insensitive).
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", invalid("identity.ParseRole", "unknown role")
	}
	return r, nil
}
