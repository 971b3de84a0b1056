package services

import "sugarconnect/internal/models"

// Policy is the closed table of which roles may talk to each other and which
// roles pay per message.
type Policy struct {
	counterparts map[models.Role]map[models.Role]bool
	metered      map[models.Role]bool
}

// DefaultCounterparts pairs patrons with seekers. Admins see everyone and
// everyone can reach an admin, so support conversations work both ways.
var DefaultCounterparts = map[models.Role][]models.Role{
	models.RoleAdmin:  {models.RoleAdmin, models.RolePatron, models.RoleSeeker},
	models.RolePatron: {models.RoleSeeker, models.RoleAdmin},
	models.RoleSeeker: {models.RolePatron, models.RoleAdmin},
}

// NewPolicy builds a Policy from a counterpart table and the metered roles.
func NewPolicy(counterparts map[models.Role][]models.Role, meteredRoles []string) Policy {
	p := Policy{
		counterparts: make(map[models.Role]map[models.Role]bool),
		metered:      make(map[models.Role]bool),
	}
	for role, others := range counterparts {
		set := make(map[models.Role]bool, len(others))
		for _, o := range others {
			set[o] = true
		}
		p.counterparts[role] = set
	}
	for _, r := range meteredRoles {
		p.metered[models.Role(r)] = true
	}
	return p
}

// Eligible reports whether a user of role `from` may see and message a user of role `to`.
func (p Policy) Eligible(from, to models.Role) bool {
	return p.counterparts[from][to]
}

// Metered reports whether sending is gated by the sender's credit balance.
func (p Policy) Metered(role models.Role) bool {
	return p.metered[role]
}
