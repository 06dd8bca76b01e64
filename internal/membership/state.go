// Package membership holds the relationship state machine, the join request
// queue and the command service that applies both inside one store
// transaction.
package membership

import (
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

// Event is an input to the state machine.
type Event string

const (
	EventJoinImmediate Event = "join(immediate)"
	EventJoinRequest   Event = "join(requires_request)"
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
	EventLeave         Event = "leave"
	EventPromote       Event = "promote"
	EventDemote        Event = "demote"
)

// Transition is the outcome of a valid move: the next state and the change
// it makes to member_count.
type Transition struct {
	From       models.Relationship
	To         models.Relationship
	CountDelta int
}

type edge struct {
	from  models.Relationship
	event Event
}

var transitions = map[edge]Transition{
	{models.RelationshipNone, EventJoinImmediate}: {To: models.RelationshipMember, CountDelta: 1},
	{models.RelationshipNone, EventJoinRequest}:   {To: models.RelationshipPending},
	{models.RelationshipPending, EventApprove}:    {To: models.RelationshipMember, CountDelta: 1},
	{models.RelationshipPending, EventReject}:     {To: models.RelationshipNone},
	{models.RelationshipMember, EventLeave}:       {To: models.RelationshipNone, CountDelta: -1},
	{models.RelationshipMember, EventPromote}:     {To: models.RelationshipModerator},
	{models.RelationshipModerator, EventDemote}:   {To: models.RelationshipMember},
}

// Next returns the transition for event from state, or INVALID_TRANSITION.
// It never has side effects; callers apply the result in their transaction.
func Next(from models.Relationship, event Event) (Transition, error) {
	t, ok := transitions[edge{from, event}]
	if !ok {
		return Transition{}, utils.NewInvalidTransitionError(string(from), string(event))
	}
	t.From = from
	return t, nil
}

// LeavePath returns the transitions a leave command walks: a moderator is
// demoted first, then leaves. Creators cannot leave.
func LeavePath(from models.Relationship) ([]Transition, error) {
	if from == models.RelationshipModerator {
		demote, err := Next(from, EventDemote)
		if err != nil {
			return nil, err
		}
		leave, err := Next(demote.To, EventLeave)
		if err != nil {
			return nil, err
		}
		return []Transition{demote, leave}, nil
	}
	leave, err := Next(from, EventLeave)
	if err != nil {
		return nil, err
	}
	return []Transition{leave}, nil
}
