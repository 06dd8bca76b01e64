package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gator-clubs/internal/cache"
	"gator-clubs/internal/database"
	"gator-clubs/internal/events"
	"gator-clubs/internal/geo"
	"gator-clubs/internal/membership"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

func newTestEngine(t *testing.T, ttl time.Duration) (*Engine, *database.MemoryStore, *events.Recorder) {
	t.Helper()
	system := actor.NewActorSystem()
	store := database.NewMemoryStore()
	recorder := &events.Recorder{}
	e := NewEngine(system, store, recorder, cache.NewMemoryCache(ttl), utils.NewMetricsCollector(), zap.NewNop(), Config{
		Shards:         4,
		RequestTimeout: 5 * time.Second,
	})
	t.Cleanup(e.Stop)
	return e, store, recorder
}

func principal() models.Principal { return models.Principal{UserID: uuid.New()} }

func TestConcurrentDoubleJoinCountsOnce(t *testing.T) {
	e, store, _ := newTestEngine(t, 0)
	ctx := context.Background()
	creator := principal()

	c, err := e.CreateCommunity(ctx, creator, models.Community{
		Name: "gators", Visibility: models.VisibilityPublic, Type: models.TypeAgnostic,
	})
	require.NoError(t, err)

	users := []models.Principal{principal(), principal(), principal()}
	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(u models.Principal) {
				defer wg.Done()
				_, err := e.Join(ctx, c.Ref(), u, nil, "")
				assert.NoError(t, err)
			}(u)
		}
	}
	wg.Wait()

	got, err := store.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	members, err := store.ListMembers(ctx, c.Ref())
	require.NoError(t, err)
	assert.Equal(t, 4, got.MemberCount)
	assert.Len(t, members, 4)
}

func TestConcurrentPrivateJoinsFileOneRequest(t *testing.T) {
	e, store, _ := newTestEngine(t, 0)
	ctx := context.Background()
	creator := principal()

	c, err := e.CreateCommunity(ctx, creator, models.Community{
		Name: "inner circle", Visibility: models.VisibilityPrivate, Type: models.TypeAgnostic,
	})
	require.NoError(t, err)

	u := principal()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		pending   int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Join(ctx, c.Ref(), u, nil, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Status == membership.JoinPending:
				pending++
			case utils.IsErrorCode(err, utils.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, pending)
	assert.Equal(t, 7, conflicts)
	requests, err := store.ListPendingRequests(ctx, c.Ref())
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestResolveRoutesThroughSubjectShard(t *testing.T) {
	e, store, recorder := newTestEngine(t, 0)
	ctx := context.Background()
	creator := principal()

	c, err := e.CreateCommunity(ctx, creator, models.Community{
		Name: "reviewers", Visibility: models.VisibilityPrivate, Type: models.TypeAgnostic,
	})
	require.NoError(t, err)

	u := principal()
	res, err := e.Join(ctx, c.Ref(), u, nil, "hello")
	require.NoError(t, err)
	require.NotNil(t, res.RequestID)

	pending, err := e.ListPending(ctx, c.Ref(), creator)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	jr, err := e.Resolve(ctx, *res.RequestID, creator, models.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, models.JoinRequestApproved, jr.Status)

	rel, err := e.Relationship(ctx, c.Ref(), u.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipMember, rel)

	got, err := store.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)
	assert.Contains(t, recorder.Types(), events.JoinRequestApproved)

	_, err = e.Resolve(ctx, uuid.New(), creator, models.DecisionApprove)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestErrorsCrossTheActorBoundary(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()
	creator := principal()

	c, err := e.CreateCommunity(ctx, creator, models.Community{
		Name: "immutable", Visibility: models.VisibilityPublic, Type: models.TypeAgnostic,
	})
	require.NoError(t, err)

	_, err = e.Leave(ctx, c.Ref(), creator)
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidTransition))

	_, err = e.CreateCommunity(ctx, creator, models.Community{
		Name: "immutable", Visibility: models.VisibilityPublic, Type: models.TypeAgnostic,
	})
	assert.True(t, utils.IsErrorCode(err, utils.ErrConflict))

	u := principal()
	_, err = e.Join(ctx, c.Ref(), u, nil, "")
	require.NoError(t, err)
	m, err := e.Promote(ctx, c.Ref(), creator, u.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, m.Role)
	m, err = e.Demote(ctx, c.Ref(), creator, u.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)

	rel, err := e.Leave(ctx, c.Ref(), u)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipNone, rel)

	processed, err := e.ProcessedCommands(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, processed)
}

func TestDiscoveryUsesSnapshotCache(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)
	ctx := context.Background()
	creator := principal()
	lat, lng := 29.65, -82.32

	near, err := e.CreateCommunity(ctx, creator, models.Community{
		Name: "gainesville runners", Visibility: models.VisibilityPublic, Type: models.TypeLocationBound,
		Latitude: &lat, Longitude: &lng, RadiusKm: 5,
	})
	require.NoError(t, err)
	_, err = e.CreateCommunity(ctx, creator, models.Community{
		Name: "online chess", Visibility: models.VisibilityPublic, Type: models.TypeAgnostic,
	})
	require.NoError(t, err)

	feed, err := e.Discovery(ctx, DiscoveryQuery{UserLocation: &geo.Point{Lat: lat, Lng: lng}})
	require.NoError(t, err)
	require.Len(t, feed.Nearby, 1)
	assert.Equal(t, near.ID, feed.Nearby[0].Community.ID)
	assert.Len(t, feed.Feed, 2)

	// posts recorded after the snapshot stay invisible until it expires
	require.NoError(t, e.RecordPost(ctx, near.ID))
	feed, err = e.Discovery(ctx, DiscoveryQuery{})
	require.NoError(t, err)
	for _, entry := range feed.Trending {
		if entry.Community.ID == near.ID {
			assert.Equal(t, 1, *entry.Score)
		}
	}

	search, err := e.Discovery(ctx, DiscoveryQuery{Query: "CHESS"})
	require.NoError(t, err)
	require.Len(t, search.Search, 1)
	assert.Equal(t, "online chess", search.Search[0].Community.Name)
}

func TestShardForIsStable(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ref := models.SubjectRef{Type: models.SubjectCommunity, ID: uuid.New()}
	assert.Same(t, e.shardFor(ref.String()), e.shardFor(ref.String()))
}

// slowStore stretches every transaction so commands queue up behind each
// other on a single shard.
type slowStore struct {
	*database.MemoryStore
	delay time.Duration
}

func (s *slowStore) InTx(ctx context.Context, fn func(ctx context.Context, tx database.Tx) error) error {
	time.Sleep(s.delay)
	return s.MemoryStore.InTx(ctx, fn)
}

func TestTimedOutCommandsAreNeverApplied(t *testing.T) {
	store := &slowStore{MemoryStore: database.NewMemoryStore(), delay: 60 * time.Millisecond}
	e := NewEngine(actor.NewActorSystem(), store, &events.Recorder{}, cache.NewMemoryCache(0),
		utils.NewMetricsCollector(), zap.NewNop(), Config{Shards: 1, RequestTimeout: 100 * time.Millisecond})
	t.Cleanup(e.Stop)
	ctx := context.Background()

	c, err := e.CreateCommunity(ctx, principal(), models.Community{
		Name: "slow", Visibility: models.VisibilityPublic, Type: models.TypeAgnostic,
	})
	require.NoError(t, err)

	users := []models.Principal{principal(), principal(), principal()}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u models.Principal) {
			defer wg.Done()
			_, errs[i] = e.Join(ctx, c.Ref(), u, nil, "")
		}(i, u)
	}
	wg.Wait()

	joined := 0
	for i, u := range users {
		m, err := store.GetMembership(ctx, c.Ref(), u.UserID)
		require.NoError(t, err)
		if errs[i] == nil {
			joined++
			assert.NotNil(t, m, "user %d was told it joined", i)
			continue
		}
		assert.True(t, utils.IsErrorCode(errs[i], utils.ErrActorTimeout), "user %d: %v", i, errs[i])
		assert.Nil(t, m, "user %d was told it failed", i)
	}
	assert.Positive(t, joined)
	assert.Less(t, joined, len(users))

	got, err := store.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+joined, got.MemberCount)
}
