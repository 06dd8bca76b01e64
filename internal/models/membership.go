package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleCreator   Role = "creator"
)

// CanModerate reports whether the role may review requests and manage members.
func (r Role) CanModerate() bool {
	return r == RoleModerator || r == RoleCreator
}

type Membership struct {
	Subject  SubjectRef `json:"subject"`
	UserID   uuid.UUID  `json:"userId"`
	Role     Role       `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

// Relationship is a user's effective relationship to a subject.
type Relationship string

const (
	RelationshipNone      Relationship = "none"
	RelationshipPending   Relationship = "pending"
	RelationshipMember    Relationship = "member"
	RelationshipModerator Relationship = "moderator"
	RelationshipCreator   Relationship = "creator"
)

// RelationshipOf derives the relationship from the membership row (may be
// nil) and whether a pending request exists.
func RelationshipOf(m *Membership, pending bool) Relationship {
	if m != nil {
		switch m.Role {
		case RoleCreator:
			return RelationshipCreator
		case RoleModerator:
			return RelationshipModerator
		default:
			return RelationshipMember
		}
	}
	if pending {
		return RelationshipPending
	}
	return RelationshipNone
}

// IsMember is true for member, moderator and creator.
func (r Relationship) IsMember() bool {
	return r == RelationshipMember || r == RelationshipModerator || r == RelationshipCreator
}

// RoleFor maps a membership relationship back to its stored role.
func RoleFor(r Relationship) (Role, bool) {
	switch r {
	case RelationshipMember:
		return RoleMember, true
	case RelationshipModerator:
		return RoleModerator, true
	case RelationshipCreator:
		return RoleCreator, true
	}
	return "", false
}
