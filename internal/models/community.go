package models

import (
	"time"

	"github.com/google/uuid"

	"gator-clubs/internal/geo"
)

// DefaultRadiusKm applies when a location-bound subject has no radius set.
const DefaultRadiusKm = 5.0

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

type CommunityType string

const (
	TypeAgnostic      CommunityType = "agnostic"
	TypeLocationBound CommunityType = "location_bound"
)

func (t CommunityType) Valid() bool {
	return t == TypeAgnostic || t == TypeLocationBound
}

type Community struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Name         string        `json:"name" db:"name"`
	Description  string        `json:"description" db:"description"`
	Visibility   Visibility    `json:"visibility" db:"visibility"`
	Type         CommunityType `json:"type" db:"type"`
	LocationName string        `json:"location,omitempty" db:"location_name"`
	Latitude     *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64      `json:"longitude,omitempty" db:"longitude"`
	RadiusKm     float64       `json:"radiusKm" db:"radius_km"`
	CreatorID    uuid.UUID     `json:"creatorId" db:"created_by"`
	MemberCount  int           `json:"memberCount" db:"member_count"`
	PostCount    int           `json:"postCount" db:"post_count"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
	Tags         []string      `json:"tags" db:"-"`
}

func (c *Community) Ref() SubjectRef {
	return SubjectRef{Type: SubjectCommunity, ID: c.ID}
}

func (c *Community) GetVisibility() Visibility { return c.Visibility }

func (c *Community) GetType() CommunityType { return c.Type }

func (c *Community) GetLocation() (geo.Point, bool) {
	return pointOf(c.Latitude, c.Longitude)
}

func (c *Community) GetRadius() float64 {
	if c.RadiusKm <= 0 {
		return DefaultRadiusKm
	}
	return c.RadiusKm
}

func (c *Community) GetParentID() *uuid.UUID { return nil }

// SubClub is a subject nested under a community, or independent when
// CommunityID is nil. An empty Type inherits type, coordinates and radius
// from the parent community.
type SubClub struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	CommunityID      *uuid.UUID    `json:"communityId,omitempty" db:"community_id"`
	SeekingCommunity bool          `json:"seekingCommunity" db:"seeking_community"`
	Name             string        `json:"name" db:"name"`
	Description      string        `json:"description" db:"description"`
	Visibility       Visibility    `json:"visibility" db:"visibility"`
	Type             CommunityType `json:"type,omitempty" db:"type"`
	LocationName     string        `json:"location,omitempty" db:"location_name"`
	Latitude         *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude        *float64      `json:"longitude,omitempty" db:"longitude"`
	RadiusKm         float64       `json:"radiusKm" db:"radius_km"`
	CreatorID        uuid.UUID     `json:"creatorId" db:"created_by"`
	MemberCount      int           `json:"memberCount" db:"member_count"`
	PostCount        int           `json:"postCount" db:"post_count"`
	CreatedAt        time.Time     `json:"createdAt" db:"created_at"`
	Tags             []string      `json:"tags" db:"-"`

	parent *Community
}

// WithParent attaches the parent community used to resolve inherited settings.
func (s *SubClub) WithParent(parent *Community) *SubClub {
	s.parent = parent
	return s
}

func (s *SubClub) Ref() SubjectRef {
	return SubjectRef{Type: SubjectSubClub, ID: s.ID}
}

func (s *SubClub) inherits() bool {
	return s.Type == "" && s.parent != nil
}

func (s *SubClub) GetVisibility() Visibility { return s.Visibility }

func (s *SubClub) GetType() CommunityType {
	if s.inherits() {
		return s.parent.GetType()
	}
	if s.Type == "" {
		return TypeAgnostic
	}
	return s.Type
}

func (s *SubClub) GetLocation() (geo.Point, bool) {
	if s.inherits() {
		return s.parent.GetLocation()
	}
	return pointOf(s.Latitude, s.Longitude)
}

func (s *SubClub) GetRadius() float64 {
	if s.inherits() {
		return s.parent.GetRadius()
	}
	if s.RadiusKm <= 0 {
		return DefaultRadiusKm
	}
	return s.RadiusKm
}

func (s *SubClub) GetParentID() *uuid.UUID { return s.CommunityID }

func pointOf(lat, lng *float64) (geo.Point, bool) {
	if lat == nil || lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *lat, Lng: *lng}, true
}
