package models

import "github.com/google/uuid"

// RoleSuperuser is the role claim that grants moderation on every subject.
const RoleSuperuser = "superuser"

// Principal is the authenticated caller. Commands receive it explicitly.
type Principal struct {
	UserID uuid.UUID
	Roles  []string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p Principal) IsSuperuser() bool {
	return p.HasRole(RoleSuperuser)
}
