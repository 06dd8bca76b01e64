package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gator-clubs/internal/models"
)

// Reader holds the lookups available both inside and outside a transaction.
// Single-row getters return a NOT_FOUND AppError when the row is absent,
// except GetMembership and GetPendingRequest which return nil, nil.
type Reader interface {
	GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error)
	GetSubClub(ctx context.Context, id uuid.UUID) (*models.SubClub, error)
	GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error)
	GetMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.Membership, error)
	GetPendingRequest(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.JoinRequest, error)
	ListMembers(ctx context.Context, subject models.SubjectRef) ([]*models.Membership, error)
	// ListPendingRequests returns pending requests oldest first.
	ListPendingRequests(ctx context.Context, subject models.SubjectRef) ([]*models.JoinRequest, error)
}

// Tx is one atomic unit of work. Nothing written through a Tx is visible
// to other readers unless the InTx callback returns nil.
type Tx interface {
	Reader

	// LockSubject serializes concurrent transactions on the same subject.
	LockSubject(ctx context.Context, subject models.SubjectRef) error

	InsertCommunity(ctx context.Context, c *models.Community) error
	InsertSubClub(ctx context.Context, s *models.SubClub) error

	SaveMembership(ctx context.Context, m *models.Membership) error
	DeleteMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) error

	// InsertJoinRequest returns CONFLICT when a pending request already
	// exists for the same subject and user.
	InsertJoinRequest(ctx context.Context, jr *models.JoinRequest) error
	UpdateJoinRequest(ctx context.Context, jr *models.JoinRequest) error

	// RecountMembers recomputes member_count from membership rows, stores
	// it on the subject and returns it.
	RecountMembers(ctx context.Context, subject models.SubjectRef) (int, error)
}

// Store is the persistence contract of the engine.
type Store interface {
	Reader

	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListCommunities(ctx context.Context) ([]*models.Community, error)
	CountCommunities(ctx context.Context) (int, error)

	// RecordPost registers post activity for trending; post content lives elsewhere.
	RecordPost(ctx context.Context, communityID uuid.UUID, at time.Time) error
	PostCountsSince(ctx context.Context, since time.Time) (map[uuid.UUID]int, error)

	Close(ctx context.Context) error
}
