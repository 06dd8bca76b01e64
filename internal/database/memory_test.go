package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

func seedCommunity(t *testing.T, s *MemoryStore, name string) *models.Community {
	t.Helper()
	c := &models.Community{
		ID:         uuid.New(),
		Name:       name,
		Visibility: models.VisibilityPublic,
		Type:       models.TypeAgnostic,
		CreatorID:  uuid.New(),
		CreatedAt:  time.Now(),
		Tags:       []string{"a"},
	}
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertCommunity(ctx, c)
	}))
	return c
}

func TestMemoryTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	c := seedCommunity(t, s, "rollback")
	userID := uuid.New()

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.SaveMembership(ctx, &models.Membership{Subject: c.Ref(), UserID: userID, Role: models.RoleMember}))
		_, err := tx.RecountMembers(ctx, c.Ref())
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	m, err := s.GetMembership(context.Background(), c.Ref(), userID)
	require.NoError(t, err)
	assert.Nil(t, m)
	got, err := s.GetCommunity(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.MemberCount)
}

func TestMemoryTxDiscardedPastDeadline(t *testing.T) {
	s := NewMemoryStore()
	c := seedCommunity(t, s, "deadline")
	userID := uuid.New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.SaveMembership(ctx, &models.Membership{Subject: c.Ref(), UserID: userID, Role: models.RoleMember}))
		time.Sleep(40 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	m, err := s.GetMembership(context.Background(), c.Ref(), userID)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMemoryOnePendingRequest(t *testing.T) {
	s := NewMemoryStore()
	c := seedCommunity(t, s, "pending")
	userID := uuid.New()

	insert := func(at time.Time) error {
		return s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.InsertJoinRequest(ctx, &models.JoinRequest{
				ID: uuid.New(), Subject: c.Ref(), UserID: userID,
				Status: models.JoinRequestPending, CreatedAt: at,
			})
		})
	}
	require.NoError(t, insert(time.Now()))
	err := insert(time.Now())
	assert.True(t, utils.IsErrorCode(err, utils.ErrConflict))

	pending, err := s.ListPendingRequests(context.Background(), c.Ref())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMemoryPendingOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	c := seedCommunity(t, s, "fifo")
	base := time.Now()

	var ids []uuid.UUID
	for i := 3; i > 0; i-- {
		jr := &models.JoinRequest{
			ID: uuid.New(), Subject: c.Ref(), UserID: uuid.New(),
			Status: models.JoinRequestPending, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		ids = append([]uuid.UUID{jr.ID}, ids...)
		require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.InsertJoinRequest(ctx, jr)
		}))
	}

	pending, err := s.ListPendingRequests(context.Background(), c.Ref())
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, jr := range pending {
		assert.Equal(t, ids[i], jr.ID)
	}
}

func TestMemoryDuplicateCommunityName(t *testing.T) {
	s := NewMemoryStore()
	seedCommunity(t, s, "same")
	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertCommunity(ctx, &models.Community{ID: uuid.New(), Name: "same"})
	})
	assert.True(t, utils.IsErrorCode(err, utils.ErrConflict))
}

func TestMemoryLockMissingSubject(t *testing.T) {
	s := NewMemoryStore()
	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.LockSubject(ctx, models.SubjectRef{Type: models.SubjectSubClub, ID: uuid.New()})
	})
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestMemoryPostCountsSince(t *testing.T) {
	s := NewMemoryStore()
	c := seedCommunity(t, s, "posts")
	now := time.Now()

	require.NoError(t, s.RecordPost(context.Background(), c.ID, now.Add(-10*24*time.Hour)))
	require.NoError(t, s.RecordPost(context.Background(), c.ID, now.Add(-time.Hour)))
	require.NoError(t, s.RecordPost(context.Background(), c.ID, now))

	counts, err := s.PostCountsSince(context.Background(), now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts[c.ID])

	got, err := s.GetCommunity(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.PostCount)

	err = s.RecordPost(context.Background(), uuid.New(), now)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}
