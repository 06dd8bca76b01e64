// Package events publishes domain events after a membership command commits.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gator-clubs/internal/models"
)

type Type string

const (
	MembershipJoined     Type = "membership.joined"
	MembershipLeft       Type = "membership.left"
	MembershipPromoted   Type = "membership.promoted"
	MembershipDemoted    Type = "membership.demoted"
	JoinRequestSubmitted Type = "join_request.submitted"
	JoinRequestApproved  Type = "join_request.approved"
	JoinRequestRejected  Type = "join_request.rejected"
	CommunityCreated     Type = "community.created"
	SubClubCreated       Type = "subclub.created"
)

type Event struct {
	Type      Type              `json:"type"`
	Subject   models.SubjectRef `json:"subject"`
	UserID    uuid.UUID         `json:"userId"`
	ActorID   uuid.UUID         `json:"actorId"`
	RequestID *uuid.UUID        `json:"requestId,omitempty"`
	At        time.Time         `json:"at"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the logger. It is used when no broker is
// configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.Info("domain event",
		zap.String("type", string(e.Type)),
		zap.Stringer("subject", e.Subject),
		zap.Stringer("user_id", e.UserID),
		zap.Stringer("actor_id", e.ActorID))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps events in memory for tests and the simulator.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
