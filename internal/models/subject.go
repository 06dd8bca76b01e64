package models

import (
	"fmt"

	"github.com/google/uuid"

	"gator-clubs/internal/geo"
)

// SubjectType tags the kind of subject a membership points at.
type SubjectType string

const (
	SubjectCommunity SubjectType = "community"
	SubjectSubClub   SubjectType = "subclub"
)

func (t SubjectType) Valid() bool {
	return t == SubjectCommunity || t == SubjectSubClub
}

// SubjectRef identifies a community or a sub-club.
type SubjectRef struct {
	Type SubjectType `json:"type"`
	ID   uuid.UUID   `json:"id"`
}

func (r SubjectRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Subject is the capability set eligibility and the state machine need,
// shared by Community and SubClub.
type Subject interface {
	Ref() SubjectRef
	GetVisibility() Visibility
	GetType() CommunityType
	GetLocation() (geo.Point, bool)
	GetRadius() float64
	GetParentID() *uuid.UUID
}

var (
	_ Subject = (*Community)(nil)
	_ Subject = (*SubClub)(nil)
)
