package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gator-clubs/internal/database"
	"gator-clubs/internal/eligibility"
	"gator-clubs/internal/events"
	"gator-clubs/internal/geo"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

// JoinStatus is the canonical status returned by join.
type JoinStatus string

const (
	JoinMember    JoinStatus = "member"
	JoinPending   JoinStatus = "pending"
	JoinDenied    JoinStatus = "denied"
	JoinModerator JoinStatus = "moderator"
	JoinCreator   JoinStatus = "creator"
)

type JoinResult struct {
	Status     JoinStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	RequestID  *uuid.UUID `json:"requestId,omitempty"`
	DistanceKm *float64   `json:"distanceKm,omitempty"`
}

// Service applies membership commands. Each command is one store
// transaction; events are published only after it commits.
type Service struct {
	store     database.Store
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(store database.Store, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) publish(ctx context.Context, evts ...events.Event) {
	for _, e := range evts {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.log.Warn("failed to publish event",
				zap.String("type", string(e.Type)),
				zap.Stringer("subject", e.Subject),
				zap.Error(err))
		}
	}
}

// loadSubject resolves a ref to its Subject, attaching the parent community
// to sub-clubs so inherited settings are visible.
func loadSubject(ctx context.Context, r database.Reader, ref models.SubjectRef) (models.Subject, error) {
	switch ref.Type {
	case models.SubjectCommunity:
		return r.GetCommunity(ctx, ref.ID)
	case models.SubjectSubClub:
		sc, err := r.GetSubClub(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if sc.CommunityID != nil {
			parent, err := r.GetCommunity(ctx, *sc.CommunityID)
			if err != nil {
				return nil, err
			}
			sc.WithParent(parent)
		}
		return sc, nil
	}
	return nil, utils.NewInvalidInputError("unknown subject type " + string(ref.Type))
}

func relationshipOf(ctx context.Context, r database.Reader, ref models.SubjectRef, userID uuid.UUID) (models.Relationship, *models.Membership, error) {
	m, err := r.GetMembership(ctx, ref, userID)
	if err != nil {
		return "", nil, err
	}
	if m != nil {
		return models.RelationshipOf(m, false), m, nil
	}
	pending, err := r.GetPendingRequest(ctx, ref, userID)
	if err != nil {
		return "", nil, err
	}
	return models.RelationshipOf(nil, pending != nil), nil, nil
}

// evaluate gathers the policy input for user against subject.
func evaluate(ctx context.Context, r database.Reader, subject models.Subject, userID uuid.UUID, loc *geo.Point) (models.Relationship, eligibility.Decision, error) {
	rel, _, err := relationshipOf(ctx, r, subject.Ref(), userID)
	if err != nil {
		return "", eligibility.Decision{}, err
	}
	in := eligibility.Input{Subject: subject, Relationship: rel, UserLocation: loc}
	if parentID := subject.GetParentID(); parentID != nil {
		parentRel, _, err := relationshipOf(ctx, r, models.SubjectRef{Type: models.SubjectCommunity, ID: *parentID}, userID)
		if err != nil {
			return "", eligibility.Decision{}, err
		}
		in.ParentRelationship = parentRel
	}
	decision, err := eligibility.Evaluate(in)
	return rel, decision, err
}

// requireModerator fails with FORBIDDEN unless p moderates the subject.
func requireModerator(ctx context.Context, r database.Reader, ref models.SubjectRef, p models.Principal) error {
	if p.IsSuperuser() {
		return nil
	}
	m, err := r.GetMembership(ctx, ref, p.UserID)
	if err != nil {
		return err
	}
	if m == nil || !m.Role.CanModerate() {
		return utils.NewForbiddenError("moderator or creator role required on " + ref.String())
	}
	return nil
}

func (s *Service) CreateCommunity(ctx context.Context, p models.Principal, c models.Community) (*models.Community, error) {
	if err := c.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "invalid community", err)
	}
	now := s.now()
	c.ID = uuid.New()
	c.CreatorID = p.UserID
	c.CreatedAt = now
	c.MemberCount = 0
	c.PostCount = 0
	if c.Tags == nil {
		c.Tags = []string{}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx database.Tx) error {
		if err := tx.InsertCommunity(ctx, &c); err != nil {
			return err
		}
		if err := tx.SaveMembership(ctx, &models.Membership{
			Subject: c.Ref(), UserID: p.UserID, Role: models.RoleCreator, JoinedAt: now,
		}); err != nil {
			return err
		}
		count, err := tx.RecountMembers(ctx, c.Ref())
		c.MemberCount = count
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("community created", zap.Stringer("id", c.ID), zap.String("name", c.Name))
	s.publish(ctx, events.Event{Type: events.CommunityCreated, Subject: c.Ref(), UserID: p.UserID, ActorID: p.UserID, At: now})
	return &c, nil
}

// CreateSubClub creates a sub-club. Under a parent community the creator
// must already belong to the parent.
func (s *Service) CreateSubClub(ctx context.Context, p models.Principal, sc models.SubClub) (*models.SubClub, error) {
	if err := sc.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "invalid sub-club", err)
	}
	now := s.now()
	sc.ID = uuid.New()
	sc.CreatorID = p.UserID
	sc.CreatedAt = now
	sc.MemberCount = 0
	sc.PostCount = 0
	if sc.CommunityID != nil {
		sc.SeekingCommunity = false
	}
	if sc.Tags == nil {
		sc.Tags = []string{}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx database.Tx) error {
		if sc.CommunityID != nil {
			parentRef := models.SubjectRef{Type: models.SubjectCommunity, ID: *sc.CommunityID}
			if err := tx.LockSubject(ctx, parentRef); err != nil {
				return err
			}
			rel, _, err := relationshipOf(ctx, tx, parentRef, p.UserID)
			if err != nil {
				return err
			}
			if !rel.IsMember() && !p.IsSuperuser() {
				return utils.NewForbiddenError("must be a member of the parent community")
			}
		}
		if err := tx.InsertSubClub(ctx, &sc); err != nil {
			return err
		}
		if err := tx.SaveMembership(ctx, &models.Membership{
			Subject: sc.Ref(), UserID: p.UserID, Role: models.RoleCreator, JoinedAt: now,
		}); err != nil {
			return err
		}
		count, err := tx.RecountMembers(ctx, sc.Ref())
		sc.MemberCount = count
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sub-club created", zap.Stringer("id", sc.ID), zap.String("name", sc.Name))
	s.publish(ctx, events.Event{Type: events.SubClubCreated, Subject: sc.Ref(), UserID: p.UserID, ActorID: p.UserID, At: now})
	return &sc, nil
}

// Join evaluates eligibility and either adds the member, files a join
// request, or reports the denial. Joining while already a member returns
// the current status unchanged; joining while pending is a CONFLICT.
func (s *Service) Join(ctx context.Context, ref models.SubjectRef, p models.Principal, loc *geo.Point, message string) (JoinResult, error) {
	var (
		result  JoinResult
		emitted []events.Event
	)
	now := s.now()

	err := s.store.InTx(ctx, func(ctx context.Context, tx database.Tx) error {
		emitted = nil
		if err := tx.LockSubject(ctx, ref); err != nil {
			return err
		}
		subject, err := loadSubject(ctx, tx, ref)
		if err != nil {
			return err
		}
		rel, decision, err := evaluate(ctx, tx, subject, p.UserID, loc)
		if err != nil {
			return err
		}

		switch {
		case rel == models.RelationshipPending:
			return utils.NewConflictError("a join request is already pending")
		case rel.IsMember():
			result = JoinResult{Status: JoinStatus(rel)}
			return nil
		}

		switch decision.Outcome {
		case eligibility.Denied:
			result = JoinResult{Status: JoinDenied, Reason: decision.Reason, DistanceKm: decision.DistanceKm}
			return nil

		case eligibility.Immediate:
			if _, err := Next(rel, EventJoinImmediate); err != nil {
				return err
			}
			if err := tx.SaveMembership(ctx, &models.Membership{
				Subject: ref, UserID: p.UserID, Role: models.RoleMember, JoinedAt: now,
			}); err != nil {
				return err
			}
			if _, err := tx.RecountMembers(ctx, ref); err != nil {
				return err
			}
			result = JoinResult{Status: JoinMember, DistanceKm: decision.DistanceKm}
			emitted = append(emitted, events.Event{Type: events.MembershipJoined, Subject: ref, UserID: p.UserID, ActorID: p.UserID, At: now})
			return nil

		default:
			jr, err := fileRequest(ctx, tx, ref, p.UserID, message, now)
			if err != nil {
				return err
			}
			result = JoinResult{Status: JoinPending, RequestID: &jr.ID, DistanceKm: decision.DistanceKm}
			emitted = append(emitted, events.Event{Type: events.JoinRequestSubmitted, Subject: ref, UserID: p.UserID, ActorID: p.UserID, RequestID: &jr.ID, At: now})
			return nil
		}
	})
	if err != nil {
		return JoinResult{}, err
	}

	s.log.Debug("join",
		zap.Stringer("subject", ref),
		zap.Stringer("user_id", p.UserID),
		zap.String("status", string(result.Status)),
		zap.String("reason", result.Reason))
	s.publish(ctx, emitted...)
	return result, nil
}

// Leave removes the caller's membership. A moderator is demoted and removed
// in the same transaction; the creator can never leave.
func (s *Service) Leave(ctx context.Context, ref models.SubjectRef, p models.Principal) (models.Relationship, error) {
	var emitted []events.Event
	now := s.now()

	err := s.store.InTx(ctx, func(ctx context.Context, tx database.Tx) error {
		emitted = nil
		if err := tx.LockSubject(ctx, ref); err != nil {
			return err
		}
		rel, _, err := relationshipOf(ctx, tx, ref, p.UserID)
		if err != nil {
			return err
		}
		path, err := LeavePath(rel)
		if err != nil {
			return err
		}
		for _, step := range path {
			if step.To == models.RelationshipMember {
				emitted = append(emitted, events.Event{Type: events.MembershipDemoted, Subject: ref, UserID: p.UserID, ActorID: p.UserID, At: now})
			}
		}
		if err := tx.DeleteMembership(ctx, ref, p.UserID); err != nil {
			return err
		}
		if _, err := tx.RecountMembers(ctx, ref); err != nil {
			return err
		}
		emitted = append(emitted, events.Event{Type: events.MembershipLeft, Subject: ref, UserID: p.UserID, ActorID: p.UserID, At: now})
		return nil
	})
	if err != nil {
		return "", err
	}

	s.publish(ctx, emitted...)
	return models.RelationshipNone, nil
}

func (s *Service) Promote(ctx context.Context, ref models.SubjectRef, actor models.Principal, target uuid.UUID) (*models.Membership, error) {
	return s.changeRole(ctx, ref, actor, target, EventPromote, events.MembershipPromoted)
}

func (s *Service) Demote(ctx context.Context, ref models.SubjectRef, actor models.Principal, target uuid.UUID) (*models.Membership, error) {
	return s.changeRole(ctx, ref, actor, target, EventDemote, events.MembershipDemoted)
}

func (s *Service) changeRole(ctx context.Context, ref models.SubjectRef, actor models.Principal, target uuid.UUID, event Event, evType events.Type) (*models.Membership, error) {
	var updated *models.Membership

	err := s.store.InTx(ctx, func(ctx context.Context, tx database.Tx) error {
		if err := tx.LockSubject(ctx, ref); err != nil {
			return err
		}
		if err := requireModerator(ctx, tx, ref, actor); err != nil {
			return err
		}
		rel, m, err := relationshipOf(ctx, tx, ref, target)
		if err != nil {
			return err
		}
		t, err := Next(rel, event)
		if err != nil {
			return err
		}
		role, _ := models.RoleFor(t.To)
		next := *m
		next.Role = role
		if err := tx.SaveMembership(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: evType, Subject: ref, UserID: target, ActorID: actor.UserID, At: s.now()})
	return updated, nil
}

// Relationship reports the user's current relationship to the subject.
func (s *Service) Relationship(ctx context.Context, ref models.SubjectRef, userID uuid.UUID) (models.Relationship, error) {
	if _, err := loadSubject(ctx, s.store, ref); err != nil {
		return "", err
	}
	rel, _, err := relationshipOf(ctx, s.store, ref, userID)
	return rel, err
}

// Members lists the subject's memberships, oldest first. Display read.
func (s *Service) Members(ctx context.Context, ref models.SubjectRef) ([]*models.Membership, error) {
	if _, err := loadSubject(ctx, s.store, ref); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, ref)
}
