// Package eligibility decides whether a join attempt is permitted and
// whether it completes immediately or needs admin approval.
package eligibility

import (
	"gator-clubs/internal/geo"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

type Outcome string

const (
	Immediate       Outcome = "immediate"
	RequiresRequest Outcome = "requires_request"
	Denied          Outcome = "denied"
)

const (
	ReasonAlreadyRelated = "already related"
	ReasonOutsideRadius  = "outside radius"
	ReasonJoinParent     = "must join parent community first"
)

type Decision struct {
	Outcome Outcome
	Reason  string
	// DistanceKm is set when the subject is location-bound.
	DistanceKm *float64
}

// Input is everything the policy looks at for one (subject, user) pair.
type Input struct {
	Subject      models.Subject
	Relationship models.Relationship
	// ParentRelationship is the user's relationship to the parent
	// community; ignored when the subject has no parent.
	ParentRelationship models.Relationship
	UserLocation       *geo.Point
}

// Evaluate applies the join rules in order. A missing or malformed user
// location for a location-bound subject is INVALID_INPUT, not a denial.
func Evaluate(in Input) (Decision, error) {
	if in.Relationship != models.RelationshipNone && in.Relationship != "" {
		return Decision{Outcome: Denied, Reason: ReasonAlreadyRelated}, nil
	}

	var decision Decision
	if in.Subject.GetType() == models.TypeLocationBound {
		if in.UserLocation == nil {
			return Decision{}, utils.NewInvalidInputError("location is required to join a location-bound subject")
		}
		if err := in.UserLocation.Validate(); err != nil {
			return Decision{}, utils.NewAppError(utils.ErrInvalidInput, "invalid user location", err)
		}
		center, ok := in.Subject.GetLocation()
		if !ok {
			return Decision{}, utils.NewInvalidInputError("location-bound subject has no coordinates")
		}
		d := geo.DistanceKm(center, *in.UserLocation)
		decision.DistanceKm = &d
		if d > in.Subject.GetRadius() {
			decision.Outcome = Denied
			decision.Reason = ReasonOutsideRadius
			return decision, nil
		}
	}

	if in.Subject.GetParentID() != nil && !in.ParentRelationship.IsMember() {
		decision.Outcome = Denied
		decision.Reason = ReasonJoinParent
		return decision, nil
	}

	if in.Subject.GetVisibility() == models.VisibilityPublic {
		decision.Outcome = Immediate
	} else {
		decision.Outcome = RequiresRequest
	}
	return decision, nil
}
