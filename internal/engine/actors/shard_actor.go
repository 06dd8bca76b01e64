package actors

import (
	"context"
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gator-clubs/internal/geo"
	"gator-clubs/internal/membership"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

// Command is embedded in every membership command. Deadline is the moment
// the caller stops waiting; a command still queued past it is never run.
type Command struct {
	Deadline time.Time
}

func (c *Command) SetDeadline(t time.Time) { c.Deadline = t }

// Message types for membership commands. Every command on a subject is
// routed to the same shard.
type (
	CreateCommunityMsg struct {
		Command
		Principal models.Principal
		Community models.Community
	}

	CreateSubClubMsg struct {
		Command
		Principal models.Principal
		SubClub   models.SubClub
	}

	JoinMsg struct {
		Command
		Subject   models.SubjectRef
		Principal models.Principal
		Location  *geo.Point
		Message   string
	}

	SubmitJoinRequestMsg struct {
		Command
		Subject   models.SubjectRef
		Principal models.Principal
		Location  *geo.Point
		Message   string
	}

	LeaveMsg struct {
		Command
		Subject   models.SubjectRef
		Principal models.Principal
	}

	PromoteMsg struct {
		Command
		Subject models.SubjectRef
		Actor   models.Principal
		Target  uuid.UUID
	}

	DemoteMsg struct {
		Command
		Subject models.SubjectRef
		Actor   models.Principal
		Target  uuid.UUID
	}

	ResolveJoinRequestMsg struct {
		Command
		RequestID uuid.UUID
		Admin     models.Principal
		Decision  models.Decision
	}

	// GetCountsMsg asks a shard how many commands it has processed.
	GetCountsMsg struct{}
)

// ShardActor runs membership commands one at a time. It holds no domain
// state; the store transaction is the source of truth.
type ShardActor struct {
	index     int
	service   *membership.Service
	metrics   *utils.MetricsCollector
	log       *zap.Logger
	timeout   time.Duration
	processed int
}

func NewShardActor(index int, service *membership.Service, metrics *utils.MetricsCollector, logger *zap.Logger, timeout time.Duration) actor.Actor {
	return &ShardActor{
		index:   index,
		service: service,
		metrics: metrics,
		log:     logger.With(zap.Int("shard", index)),
		timeout: timeout,
	}
}

func (a *ShardActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.log.Debug("ShardActor started")

	case *actor.Stopping:
		a.log.Debug("ShardActor stopping", zap.Int("processed", a.processed))

	case *actor.Stopped:
		a.log.Debug("ShardActor stopped")

	case *actor.Restarting:
		a.log.Warn("ShardActor restarting")

	case *CreateCommunityMsg:
		a.run(context, msg.Deadline, "create_community", func(ctx cmdContext) (interface{}, error) {
			return a.service.CreateCommunity(ctx, msg.Principal, msg.Community)
		})

	case *CreateSubClubMsg:
		a.run(context, msg.Deadline, "create_subclub", func(ctx cmdContext) (interface{}, error) {
			return a.service.CreateSubClub(ctx, msg.Principal, msg.SubClub)
		})

	case *JoinMsg:
		a.run(context, msg.Deadline, "join", func(ctx cmdContext) (interface{}, error) {
			res, err := a.service.Join(ctx, msg.Subject, msg.Principal, msg.Location, msg.Message)
			return &res, err
		})

	case *SubmitJoinRequestMsg:
		a.run(context, msg.Deadline, "submit", func(ctx cmdContext) (interface{}, error) {
			return a.service.Submit(ctx, msg.Subject, msg.Principal, msg.Location, msg.Message)
		})

	case *LeaveMsg:
		a.run(context, msg.Deadline, "leave", func(ctx cmdContext) (interface{}, error) {
			return a.service.Leave(ctx, msg.Subject, msg.Principal)
		})

	case *PromoteMsg:
		a.run(context, msg.Deadline, "promote", func(ctx cmdContext) (interface{}, error) {
			return a.service.Promote(ctx, msg.Subject, msg.Actor, msg.Target)
		})

	case *DemoteMsg:
		a.run(context, msg.Deadline, "demote", func(ctx cmdContext) (interface{}, error) {
			return a.service.Demote(ctx, msg.Subject, msg.Actor, msg.Target)
		})

	case *ResolveJoinRequestMsg:
		a.run(context, msg.Deadline, "resolve", func(ctx cmdContext) (interface{}, error) {
			return a.service.Resolve(ctx, msg.RequestID, msg.Admin, msg.Decision)
		})

	case *GetCountsMsg:
		context.Respond(a.processed)
	}
}

// cmdContext names context.Context inside Receive, whose parameter
// shadows the package.
type cmdContext = context.Context

// run executes one command and responds with its result or an *AppError.
// A command whose deadline has passed is rejected without touching the
// store; the deadline also bounds the transaction so it cannot commit after
// the caller gave up.
func (a *ShardActor) run(actx actor.Context, deadline time.Time, op string, fn func(ctx cmdContext) (interface{}, error)) {
	startTime := time.Now()
	if deadline.IsZero() {
		deadline = startTime.Add(a.timeout)
	}
	if !startTime.Before(deadline) {
		a.processed++
		a.log.Debug("command expired in mailbox", zap.String("op", op))
		actx.Respond(utils.NewActorTimeoutError("shard"))
		return
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	result, err := fn(ctx)
	a.processed++
	a.metrics.AddOperationLatency(op, time.Since(startTime))

	if err != nil {
		appErr := toAppError(err)
		if appErr.Code == utils.ErrDatabase {
			a.log.Error("command failed", zap.String("op", op), zap.Error(err))
		} else {
			a.log.Debug("command rejected", zap.String("op", op), zap.String("code", appErr.Code), zap.String("message", appErr.Message))
		}
		actx.Respond(appErr)
		return
	}
	actx.Respond(result)
}

func toAppError(err error) *utils.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return utils.NewActorTimeoutError("shard")
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return utils.NewAppError(utils.ErrDatabase, "command failed", err)
}
