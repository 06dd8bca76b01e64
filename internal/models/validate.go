package models

import (
	"errors"
	"fmt"
	"strings"

	"gator-clubs/internal/geo"
)

var (
	errNameRequired      = errors.New("name is required")
	errBadVisibility     = errors.New(`visibility must be "public" or "private"`)
	errBadType           = errors.New(`type must be "agnostic" or "location_bound"`)
	errLocationRequired  = errors.New("latitude and longitude are required for location_bound")
	errNegativeRadius    = errors.New("radiusKm must be positive")
	errPartialCoordinate = errors.New("latitude and longitude must be set together")
)

// Validate checks a community definition before it is created. It fills
// the default radius for location-bound communities.
func (c *Community) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errNameRequired
	}
	if !c.Visibility.Valid() {
		return errBadVisibility
	}
	if !c.Type.Valid() {
		return errBadType
	}
	radius, err := validatePlacement(c.Type, c.Latitude, c.Longitude, c.RadiusKm)
	if err != nil {
		return err
	}
	c.RadiusKm = radius
	return nil
}

// Validate checks a sub-club definition. An empty type is allowed only when
// the sub-club has a parent to inherit from.
func (s *SubClub) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errNameRequired
	}
	if !s.Visibility.Valid() {
		return errBadVisibility
	}
	if s.Type == "" {
		if s.CommunityID == nil {
			s.Type = TypeAgnostic
		} else {
			return nil
		}
	}
	if !s.Type.Valid() {
		return errBadType
	}
	radius, err := validatePlacement(s.Type, s.Latitude, s.Longitude, s.RadiusKm)
	if err != nil {
		return err
	}
	s.RadiusKm = radius
	return nil
}

func validatePlacement(t CommunityType, lat, lng *float64, radius float64) (float64, error) {
	if (lat == nil) != (lng == nil) {
		return 0, errPartialCoordinate
	}
	if lat != nil {
		if err := (geo.Point{Lat: *lat, Lng: *lng}).Validate(); err != nil {
			return 0, err
		}
	}
	if t != TypeLocationBound {
		return radius, nil
	}
	if lat == nil {
		return 0, errLocationRequired
	}
	if radius < 0 {
		return 0, errNegativeRadius
	}
	if radius == 0 {
		return DefaultRadiusKm, nil
	}
	return radius, nil
}

// ParseSubjectType accepts both the singular tag and the plural route segment.
func ParseSubjectType(s string) (SubjectType, error) {
	switch strings.ToLower(s) {
	case "community", "communities":
		return SubjectCommunity, nil
	case "subclub", "subclubs", "sub-club", "sub-clubs":
		return SubjectSubClub, nil
	}
	return "", fmt.Errorf("unknown subject type %q", s)
}
