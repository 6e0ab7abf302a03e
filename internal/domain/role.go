package domain

import "strings"

// Role is a position in the sales hierarchy.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleDirector   Role = "DIRECTOR"
	RoleLeader     Role = "LEADER"
	RoleSales      Role = "SALES"
	RoleAgent      Role = "AGENT"
)

// Roles lists every role from most to least privileged.
var Roles = []Role{RoleSuperAdmin, RoleDirector, RoleLeader, RoleSales, RoleAgent}

var roleRank = map[Role]int{
	RoleSuperAdmin: 0,
	RoleDirector:   1,
	RoleLeader:     2,
	RoleSales:      3,
	RoleAgent:      4,
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleRank[r]
	return r, ok
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the ordinal of r; lower is more privileged. Unknown roles rank -1.
func (r Role) Rank() int {
	rank, ok := roleRank[r]
	if !ok {
		return -1
	}
	return rank
}

// Outranks reports whether r is strictly more privileged than other.
// Unknown roles never outrank and are never outranked.
func (r Role) Outranks(other Role) bool {
	if !r.Valid() || !other.Valid() {
		return false
	}
	return r.Rank() < other.Rank()
}
