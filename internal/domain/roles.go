package domain

import "slices"

// Role is a group-scoped role held by a member.
type Role string

const (
	RoleJunior  Role = "junior"
	RoleMember  Role = "member"
	RoleMentor  Role = "mentor"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a stored role string to a Role. Unknown roles report false.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleJunior, RoleMember, RoleMentor, RoleManager, RoleAdmin:
		return r, true
	}
	return "", false
}

// Capability names an action a role or a site-level grant allows.
type Capability string

const (
	CapReviewRatify     Capability = "ratification.review"
	CapEndorse          Capability = "endorsement.give"
	CapTaskOverride     Capability = "task.override"
	CapDigestAdminister Capability = "digest.run"
)

func (c Capability) Valid() bool {
	switch c {
	case CapReviewRatify, CapEndorse, CapTaskOverride, CapDigestAdminister:
		return true
	}
	return false
}

// RoleCapabilities is the explicit role to capability table.
type RoleCapabilities map[Role][]Capability

// DefaultRoleCapabilities is used when config does not override the table.
func DefaultRoleCapabilities() RoleCapabilities {
	return RoleCapabilities{
		RoleJunior:  {},
		RoleMember:  {CapEndorse},
		RoleMentor:  {CapEndorse, CapReviewRatify},
		RoleManager: {CapEndorse, CapReviewRatify, CapTaskOverride},
		RoleAdmin:   {CapEndorse, CapReviewRatify, CapTaskOverride, CapDigestAdminister},
	}
}

// Grants reports whether any of roles carries c.
func (m RoleCapabilities) Grants(roles []Role, c Capability) bool {
	for _, r := range roles {
		if slices.Contains(m[r], c) {
			return true
		}
	}
	return false
}
