package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

type memberKey struct {
	subject models.SubjectRef
	userID  uuid.UUID
}

type memState struct {
	communities map[uuid.UUID]models.Community
	subclubs    map[uuid.UUID]models.SubClub
	memberships map[memberKey]models.Membership
	requests    map[uuid.UUID]models.JoinRequest
	posts       map[uuid.UUID][]time.Time
}

func newMemState() *memState {
	return &memState{
		communities: make(map[uuid.UUID]models.Community),
		subclubs:    make(map[uuid.UUID]models.SubClub),
		memberships: make(map[memberKey]models.Membership),
		requests:    make(map[uuid.UUID]models.JoinRequest),
		posts:       make(map[uuid.UUID][]time.Time),
	}
}

// clone copies every map; values are structs so the copy is independent
// except for slices, which are never mutated in place.
func (s *memState) clone() *memState {
	c := &memState{
		communities: make(map[uuid.UUID]models.Community, len(s.communities)),
		subclubs:    make(map[uuid.UUID]models.SubClub, len(s.subclubs)),
		memberships: make(map[memberKey]models.Membership, len(s.memberships)),
		requests:    make(map[uuid.UUID]models.JoinRequest, len(s.requests)),
		posts:       s.posts,
	}
	for k, v := range s.communities {
		c.communities[k] = v
	}
	for k, v := range s.subclubs {
		c.subclubs[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	return c
}

// MemoryStore keeps everything in process. Transactions run one at a time
// against a copy of the state, which replaces the live state on success.
// Each transaction clones every map, so a command costs O(total state);
// it is meant for tests and development, not production volumes.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := m.state.clone()
	if err := fn(ctx, &memTx{state: working}); err != nil {
		return err
	}
	// a caller that gave up must not see its command applied
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = working
	return nil
}

func (m *MemoryStore) read() *memTx {
	return &memTx{state: m.state}
}

func (m *MemoryStore) GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetCommunity(ctx, id)
}

func (m *MemoryStore) GetSubClub(ctx context.Context, id uuid.UUID) (*models.SubClub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSubClub(ctx, id)
}

func (m *MemoryStore) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetJoinRequest(ctx, id)
}

func (m *MemoryStore) GetMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetMembership(ctx, subject, userID)
}

func (m *MemoryStore) GetPendingRequest(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPendingRequest(ctx, subject, userID)
}

func (m *MemoryStore) ListMembers(ctx context.Context, subject models.SubjectRef) ([]*models.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListMembers(ctx, subject)
}

func (m *MemoryStore) ListPendingRequests(ctx context.Context, subject models.SubjectRef) ([]*models.JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListPendingRequests(ctx, subject)
}

func (m *MemoryStore) ListCommunities(ctx context.Context) ([]*models.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Community, 0, len(m.state.communities))
	for _, c := range m.state.communities {
		c := c
		c.Tags = append([]string(nil), c.Tags...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountCommunities(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.communities), nil
}

func (m *MemoryStore) RecordPost(ctx context.Context, communityID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.state.communities[communityID]
	if !ok {
		return utils.NewNotFoundError("community", communityID)
	}
	c.PostCount++
	m.state.communities[communityID] = c

	// copy-on-write so transaction snapshots sharing the map stay untouched
	posts := make(map[uuid.UUID][]time.Time, len(m.state.posts)+1)
	for k, v := range m.state.posts {
		posts[k] = v
	}
	posts[communityID] = append(append([]time.Time(nil), posts[communityID]...), at)
	m.state.posts = posts
	return nil
}

func (m *MemoryStore) PostCountsSince(ctx context.Context, since time.Time) (map[uuid.UUID]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[uuid.UUID]int)
	for id, times := range m.state.posts {
		for _, at := range times {
			if !at.Before(since) {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// memTx implements Tx over a memState. The store uses it read-only for
// plain lookups.
type memTx struct {
	state *memState
}

func (t *memTx) GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error) {
	c, ok := t.state.communities[id]
	if !ok {
		return nil, utils.NewNotFoundError("community", id)
	}
	c.Tags = append([]string(nil), c.Tags...)
	return &c, nil
}

func (t *memTx) GetSubClub(ctx context.Context, id uuid.UUID) (*models.SubClub, error) {
	s, ok := t.state.subclubs[id]
	if !ok {
		return nil, utils.NewNotFoundError("sub-club", id)
	}
	s.Tags = append([]string(nil), s.Tags...)
	return &s, nil
}

func (t *memTx) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	jr, ok := t.state.requests[id]
	if !ok {
		return nil, utils.NewNotFoundError("join request", id)
	}
	return &jr, nil
}

func (t *memTx) GetMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.Membership, error) {
	m, ok := t.state.memberships[memberKey{subject, userID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *memTx) GetPendingRequest(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.JoinRequest, error) {
	for _, jr := range t.state.requests {
		if jr.Subject == subject && jr.UserID == userID && jr.Status == models.JoinRequestPending {
			jr := jr
			return &jr, nil
		}
	}
	return nil, nil
}

func (t *memTx) ListMembers(ctx context.Context, subject models.SubjectRef) ([]*models.Membership, error) {
	out := make([]*models.Membership, 0)
	for k, m := range t.state.memberships {
		if k.subject == subject {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (t *memTx) ListPendingRequests(ctx context.Context, subject models.SubjectRef) ([]*models.JoinRequest, error) {
	out := make([]*models.JoinRequest, 0)
	for _, jr := range t.state.requests {
		if jr.Subject == subject && jr.Status == models.JoinRequestPending {
			jr := jr
			out = append(out, &jr)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func (t *memTx) LockSubject(ctx context.Context, subject models.SubjectRef) error {
	// InTx already holds the store-wide lock
	return t.subjectExists(subject)
}

func (t *memTx) subjectExists(subject models.SubjectRef) error {
	switch subject.Type {
	case models.SubjectCommunity:
		if _, ok := t.state.communities[subject.ID]; ok {
			return nil
		}
		return utils.NewNotFoundError("community", subject.ID)
	case models.SubjectSubClub:
		if _, ok := t.state.subclubs[subject.ID]; ok {
			return nil
		}
		return utils.NewNotFoundError("sub-club", subject.ID)
	}
	return utils.NewInvalidInputError("unknown subject type " + string(subject.Type))
}

func (t *memTx) InsertCommunity(ctx context.Context, c *models.Community) error {
	if _, exists := t.state.communities[c.ID]; exists {
		return utils.NewConflictError("community already exists")
	}
	for _, existing := range t.state.communities {
		if existing.Name == c.Name {
			return utils.NewConflictError("community with name " + c.Name + " already exists")
		}
	}
	stored := *c
	stored.Tags = append([]string(nil), c.Tags...)
	t.state.communities[c.ID] = stored
	return nil
}

func (t *memTx) InsertSubClub(ctx context.Context, s *models.SubClub) error {
	if _, exists := t.state.subclubs[s.ID]; exists {
		return utils.NewConflictError("sub-club already exists")
	}
	stored := *s
	stored.Tags = append([]string(nil), s.Tags...)
	t.state.subclubs[s.ID] = stored
	return nil
}

func (t *memTx) SaveMembership(ctx context.Context, m *models.Membership) error {
	if err := t.subjectExists(m.Subject); err != nil {
		return err
	}
	t.state.memberships[memberKey{m.Subject, m.UserID}] = *m
	return nil
}

func (t *memTx) DeleteMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) error {
	delete(t.state.memberships, memberKey{subject, userID})
	return nil
}

func (t *memTx) InsertJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	if existing, _ := t.GetPendingRequest(ctx, jr.Subject, jr.UserID); existing != nil && jr.Status == models.JoinRequestPending {
		return utils.NewConflictError("a join request is already pending")
	}
	t.state.requests[jr.ID] = *jr
	return nil
}

func (t *memTx) UpdateJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	if _, ok := t.state.requests[jr.ID]; !ok {
		return utils.NewNotFoundError("join request", jr.ID)
	}
	t.state.requests[jr.ID] = *jr
	return nil
}

func (t *memTx) RecountMembers(ctx context.Context, subject models.SubjectRef) (int, error) {
	count := 0
	for k := range t.state.memberships {
		if k.subject == subject {
			count++
		}
	}
	switch subject.Type {
	case models.SubjectCommunity:
		c, ok := t.state.communities[subject.ID]
		if !ok {
			return 0, utils.NewNotFoundError("community", subject.ID)
		}
		c.MemberCount = count
		t.state.communities[subject.ID] = c
	case models.SubjectSubClub:
		s, ok := t.state.subclubs[subject.ID]
		if !ok {
			return 0, utils.NewNotFoundError("sub-club", subject.ID)
		}
		s.MemberCount = count
		t.state.subclubs[subject.ID] = s
	}
	return count, nil
}

func sortOldestFirst(requests []*models.JoinRequest) {
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID.String() < requests[j].ID.String()
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}
