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

func fileRequest(ctx context.Context, tx database.Tx, ref models.SubjectRef, userID uuid.UUID, message string, now time.Time) (*models.JoinRequest, error) {
	if _, err := Next(models.RelationshipNone, EventJoinRequest); err != nil {
		return nil, err
	}
	jr := &models.JoinRequest{
		ID:        uuid.New(),
		Subject:   ref,
		UserID:    userID,
		Message:   message,
		Status:    models.JoinRequestPending,
		CreatedAt: now,
	}
	if err := tx.InsertJoinRequest(ctx, jr); err != nil {
		return nil, err
	}
	return jr, nil
}

// Submit files a join request. Eligibility is re-checked inside the
// transaction and anything other than requires_request is a CONFLICT.
func (s *Service) Submit(ctx context.Context, ref models.SubjectRef, p models.Principal, loc *geo.Point, message string) (*models.JoinRequest, error) {
	var jr *models.JoinRequest
	now := s.now()

	err := s.store.InTx(ctx, func(ctx context.Context, tx database.Tx) error {
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
		if rel == models.RelationshipPending {
			return utils.NewConflictError("a join request is already pending")
		}
		if decision.Outcome != eligibility.RequiresRequest {
			reason := string(decision.Outcome)
			if decision.Reason != "" {
				reason = decision.Reason
			}
			return utils.NewConflictError("join request not applicable: " + reason)
		}
		jr, err = fileRequest(ctx, tx, ref, p.UserID, message, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.JoinRequestSubmitted, Subject: ref, UserID: p.UserID, ActorID: p.UserID, RequestID: &jr.ID, At: now})
	return jr, nil
}

// ListPending returns the subject's pending requests, oldest first.
func (s *Service) ListPending(ctx context.Context, ref models.SubjectRef, admin models.Principal) ([]*models.JoinRequest, error) {
	if _, err := loadSubject(ctx, s.store, ref); err != nil {
		return nil, err
	}
	if err := requireModerator(ctx, s.store, ref, admin); err != nil {
		return nil, err
	}
	return s.store.ListPendingRequests(ctx, ref)
}

// Resolve approves or rejects a pending request. Approval adds the
// membership and recounts members in the same transaction as the status
// change.
func (s *Service) Resolve(ctx context.Context, requestID uuid.UUID, admin models.Principal, decision models.Decision) (*models.JoinRequest, error) {
	if !decision.Valid() {
		return nil, utils.NewInvalidInputError(`decision must be "approve" or "reject"`)
	}
	var resolved *models.JoinRequest
	now := s.now()

	err := s.store.InTx(ctx, func(ctx context.Context, tx database.Tx) error {
		jr, err := tx.GetJoinRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := tx.LockSubject(ctx, jr.Subject); err != nil {
			return err
		}
		// re-read under the subject lock
		if jr, err = tx.GetJoinRequest(ctx, requestID); err != nil {
			return err
		}
		if err := requireModerator(ctx, tx, jr.Subject, admin); err != nil {
			return err
		}
		if jr.Status != models.JoinRequestPending {
			return utils.NewAppError(utils.ErrInvalidState, "join request is already "+string(jr.Status), nil)
		}

		event := EventReject
		if decision == models.DecisionApprove {
			event = EventApprove
		}
		t, err := Next(models.RelationshipPending, event)
		if err != nil {
			return err
		}

		if role, ok := models.RoleFor(t.To); ok {
			if err := tx.SaveMembership(ctx, &models.Membership{
				Subject: jr.Subject, UserID: jr.UserID, Role: role, JoinedAt: now,
			}); err != nil {
				return err
			}
			if _, err := tx.RecountMembers(ctx, jr.Subject); err != nil {
				return err
			}
			jr.Status = models.JoinRequestApproved
		} else {
			jr.Status = models.JoinRequestRejected
		}
		resolvedAt := now
		resolvedBy := admin.UserID
		jr.ResolvedAt = &resolvedAt
		jr.ResolvedBy = &resolvedBy
		if err := tx.UpdateJoinRequest(ctx, jr); err != nil {
			return err
		}
		resolved = jr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("join request resolved",
		zap.Stringer("request_id", resolved.ID),
		zap.Stringer("subject", resolved.Subject),
		zap.String("status", string(resolved.Status)))

	evType := events.JoinRequestRejected
	if resolved.Status == models.JoinRequestApproved {
		evType = events.JoinRequestApproved
	}
	evts := []events.Event{{Type: evType, Subject: resolved.Subject, UserID: resolved.UserID, ActorID: admin.UserID, RequestID: &resolved.ID, At: now}}
	if resolved.Status == models.JoinRequestApproved {
		evts = append(evts, events.Event{Type: events.MembershipJoined, Subject: resolved.Subject, UserID: resolved.UserID, ActorID: admin.UserID, At: now})
	}
	s.publish(ctx, evts...)
	return resolved, nil
}
