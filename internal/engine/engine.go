// Package engine routes membership commands to shard actors and serves
// discovery reads from a cached snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gator-clubs/internal/cache"
	"gator-clubs/internal/database"
	"gator-clubs/internal/discovery"
	"gator-clubs/internal/engine/actors"
	"gator-clubs/internal/events"
	"gator-clubs/internal/geo"
	"gator-clubs/internal/membership"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

type Config struct {
	Shards         int
	RequestTimeout time.Duration
	TrendingWindow time.Duration
	NearbyRadiusKm float64
}

func (c *Config) applyDefaults() {
	if c.Shards <= 0 {
		c.Shards = 16
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.TrendingWindow <= 0 {
		c.TrendingWindow = 7 * 24 * time.Hour
	}
	if c.NearbyRadiusKm <= 0 {
		c.NearbyRadiusKm = discovery.DefaultNearbyRadiusKm
	}
}

// Engine coordinates communication between the HTTP layer, the shard
// actors and the store.
type Engine struct {
	system   *actor.ActorSystem
	shards   []*actor.PID
	service  *membership.Service
	store    database.Store
	snapshot cache.SnapshotCache
	fill     singleflight.Group
	metrics  *utils.MetricsCollector
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewEngine(system *actor.ActorSystem, store database.Store, publisher events.Publisher, snapshot cache.SnapshotCache, metrics *utils.MetricsCollector, logger *zap.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	service := membership.NewService(store, publisher, logger.Named("membership"))

	e := &Engine{
		system:   system,
		service:  service,
		store:    store,
		snapshot: snapshot,
		metrics:  metrics,
		log:      logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for i := 0; i < cfg.Shards; i++ {
		i := i
		props := actor.PropsFromProducer(func() actor.Actor {
			return actors.NewShardActor(i, service, metrics, logger.Named("shard"), cfg.RequestTimeout)
		})
		e.shards = append(e.shards, system.Root.Spawn(props))
	}
	logger.Info("engine started", zap.Int("shards", cfg.Shards))
	return e
}

// shardFor maps a routing key to a shard. All commands on one subject share
// a key, so they are processed one at a time.
func (e *Engine) shardFor(key string) *actor.PID {
	return e.shards[xxhash.Sum64String(key)%uint64(len(e.shards))]
}

// responseGrace is how long the caller keeps waiting past a command's
// deadline for the shard's reply.
const responseGrace = 2 * time.Second

type deadlineSetter interface {
	SetDeadline(time.Time)
}

func (e *Engine) request(ctx context.Context, key string, msg interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.NewActorTimeoutError("request cancelled")
	}
	timeout := e.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	// The shard refuses to start or commit a command past its deadline, and
	// the future outlives the deadline by responseGrace, so a caller that
	// sees ACTOR_TIMEOUT knows the command was not applied.
	if cmd, ok := msg.(deadlineSetter); ok {
		cmd.SetDeadline(time.Now().Add(timeout))
	}
	future := e.system.Root.RequestFuture(e.shardFor(key), msg, timeout+responseGrace)
	result, err := future.Result()
	if err != nil {
		if errors.Is(err, actor.ErrTimeout) {
			return nil, utils.NewActorTimeoutError("shard")
		}
		return nil, utils.NewAppError(utils.ErrMessageRejected, "shard request failed", err)
	}
	if appErr, ok := result.(*utils.AppError); ok {
		return nil, appErr
	}
	return result, nil
}

func as[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := result.(T)
	if !ok {
		return zero, utils.NewAppError(utils.ErrMessageRejected, fmt.Sprintf("unexpected response type %T", result), nil)
	}
	return v, nil
}

func (e *Engine) CreateCommunity(ctx context.Context, p models.Principal, c models.Community) (*models.Community, error) {
	created, err := as[*models.Community](e.request(ctx, "community-name:"+c.Name, &actors.CreateCommunityMsg{Principal: p, Community: c}))
	if err == nil {
		e.invalidate(ctx)
	}
	return created, err
}

func (e *Engine) CreateSubClub(ctx context.Context, p models.Principal, sc models.SubClub) (*models.SubClub, error) {
	key := "subclub-name:" + sc.Name
	if sc.CommunityID != nil {
		key = models.SubjectRef{Type: models.SubjectCommunity, ID: *sc.CommunityID}.String()
	}
	return as[*models.SubClub](e.request(ctx, key, &actors.CreateSubClubMsg{Principal: p, SubClub: sc}))
}

func (e *Engine) Join(ctx context.Context, ref models.SubjectRef, p models.Principal, loc *geo.Point, message string) (*membership.JoinResult, error) {
	return as[*membership.JoinResult](e.request(ctx, ref.String(), &actors.JoinMsg{Subject: ref, Principal: p, Location: loc, Message: message}))
}

func (e *Engine) Submit(ctx context.Context, ref models.SubjectRef, p models.Principal, loc *geo.Point, message string) (*models.JoinRequest, error) {
	return as[*models.JoinRequest](e.request(ctx, ref.String(), &actors.SubmitJoinRequestMsg{Subject: ref, Principal: p, Location: loc, Message: message}))
}

func (e *Engine) Leave(ctx context.Context, ref models.SubjectRef, p models.Principal) (models.Relationship, error) {
	return as[models.Relationship](e.request(ctx, ref.String(), &actors.LeaveMsg{Subject: ref, Principal: p}))
}

func (e *Engine) Promote(ctx context.Context, ref models.SubjectRef, by models.Principal, target uuid.UUID) (*models.Membership, error) {
	return as[*models.Membership](e.request(ctx, ref.String(), &actors.PromoteMsg{Subject: ref, Actor: by, Target: target}))
}

func (e *Engine) Demote(ctx context.Context, ref models.SubjectRef, by models.Principal, target uuid.UUID) (*models.Membership, error) {
	return as[*models.Membership](e.request(ctx, ref.String(), &actors.DemoteMsg{Subject: ref, Actor: by, Target: target}))
}

// Resolve looks up the request's subject to route to its shard; the shard
// re-reads the request inside the transaction.
func (e *Engine) Resolve(ctx context.Context, requestID uuid.UUID, admin models.Principal, decision models.Decision) (*models.JoinRequest, error) {
	jr, err := e.store.GetJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return as[*models.JoinRequest](e.request(ctx, jr.Subject.String(), &actors.ResolveJoinRequestMsg{RequestID: requestID, Admin: admin, Decision: decision}))
}

func (e *Engine) GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error) {
	return e.store.GetCommunity(ctx, id)
}

func (e *Engine) GetSubClub(ctx context.Context, id uuid.UUID) (*models.SubClub, error) {
	return e.store.GetSubClub(ctx, id)
}

func (e *Engine) Relationship(ctx context.Context, ref models.SubjectRef, userID uuid.UUID) (models.Relationship, error) {
	return e.service.Relationship(ctx, ref, userID)
}

func (e *Engine) Members(ctx context.Context, ref models.SubjectRef) ([]*models.Membership, error) {
	return e.service.Members(ctx, ref)
}

func (e *Engine) ListPending(ctx context.Context, ref models.SubjectRef, admin models.Principal) ([]*models.JoinRequest, error) {
	return e.service.ListPending(ctx, ref, admin)
}

// RecordPost counts a post reported by the post service towards trending.
func (e *Engine) RecordPost(ctx context.Context, communityID uuid.UUID) error {
	return e.store.RecordPost(ctx, communityID, e.now())
}

func (e *Engine) CountCommunities(ctx context.Context) (int, error) {
	return e.store.CountCommunities(ctx)
}

// ProcessedCommands sums the commands handled by every shard.
func (e *Engine) ProcessedCommands(ctx context.Context) (int, error) {
	total := 0
	for _, pid := range e.shards {
		n, err := as[int](e.requestPID(pid, &actors.GetCountsMsg{}))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) requestPID(pid *actor.PID, msg interface{}) (interface{}, error) {
	result, err := e.system.Root.RequestFuture(pid, msg, e.cfg.RequestTimeout).Result()
	if err != nil {
		return nil, utils.NewActorTimeoutError("shard")
	}
	return result, nil
}

// Stop drains and stops every shard.
func (e *Engine) Stop() {
	for _, pid := range e.shards {
		if err := e.system.Root.PoisonFuture(pid).Wait(); err != nil {
			e.log.Warn("shard did not stop cleanly", zap.String("pid", pid.String()), zap.Error(err))
		}
	}
}
