package actor

import (
	"errors"
	"time"

	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/domain"
	. "github.com/berfenger/meterbridge/internal/util/actorutil"
	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// IammeterCoordinatorActor polls one meter through its modbus actor. A failed
// first refresh panics so the supervisor retries the entry setup. Afterwards
// the next poll is scheduled only once the previous result arrived.
type IammeterCoordinatorActor struct {
	ActorWithStates
	config         config.IammeterConfig
	modbusActor    *actor.PID
	refreshTimeout time.Duration
	device         domain.Device
	sensors        []domain.GenericSensor
	tracker        *entryTracker
	scheduler      *scheduler.TimerScheduler
	cancelTick     scheduler.CancelFunc
	pending        []*actor.PID
	stash          *Stash
	id             string

	logger StateLogger
}

type iammeterTick struct {
}

func NewIammeterCoordinatorActor(cfg config.IammeterConfig, modbusActor *actor.PID, refreshTimeout time.Duration, deps EntryDeps) *IammeterCoordinatorActor {
	device := domain.IammeterDevice(cfg.Name, cfg.DeviceType())
	act := &IammeterCoordinatorActor{
		config:         cfg,
		modbusActor:    modbusActor,
		refreshTimeout: refreshTimeout,
		device:         device,
		sensors:        domain.IammeterSensors(cfg.Id, device, cfg.Name, cfg.DeviceType()),
		tracker:        newEntryTracker(cfg.Id, deps),
		stash:          &Stash{},
		id:             domain.EntryActorId(domain.ACTOR_ID_IAMMETER, cfg.Id),
		logger: StateLogger{
			Actor:  domain.ACTOR_ID_IAMMETER,
			Logger: ActorLogger(domain.ACTOR_ID_IAMMETER, deps.Logger).With(zap.String("entry", cfg.Id)),
		},
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(icStartingState{actor: act})
	return act
}

func (state *IammeterCoordinatorActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (state *IammeterCoordinatorActor) requestRefresh(ctx actor.Context) {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.RefreshModbusDataRequest{}, state.refreshTimeout), func(err error) any {
		return domain.RefreshModbusDataResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		}
	})
}

func (state *IammeterCoordinatorActor) scheduleTick(ctx actor.Context) {
	if state.config.DisablePolling || state.scheduler == nil {
		return
	}
	state.cancelTick = state.scheduler.SendOnce(state.config.Interval(), ctx.Self(), iammeterTick{})
}

func (state *IammeterCoordinatorActor) stopPolling() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}

// apply returns the error to report to manual refresh callers.
func (state *IammeterCoordinatorActor) apply(name string, msg domain.RefreshModbusDataResponse) error {
	err := msg.GetResponseError()
	switch {
	case err == nil:
		state.logger.Debug(name, "refreshed", zap.Int("values", len(msg.Snapshot)))
		state.tracker.succeeded(state.sensors, msg.Snapshot)
		state.tracker.deps.Metrics.SetReadings(state.config.Id, msg.Snapshot)
	case errors.Is(err, iammeter_modbus.ErrNoData):
		state.logger.Warn(name, "no data", zap.Error(err))
		state.tracker.noData(err)
	default:
		state.logger.Error(name, "refresh failed", zap.Error(err))
		state.tracker.failed(err)
	}
	return err
}

func (state *IammeterCoordinatorActor) health(ctx actor.Context, s ActorState, healthy bool) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      state.id,
		Healthy: healthy,
		State:   s.Name(),
	})
}

func (state *IammeterCoordinatorActor) respondPending(ctx actor.Context, err error) {
	for _, pid := range state.pending {
		ctx.Send(pid, domain.CoordinatorRefreshResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			EntryMixIn:         domain.EntryMixIn{EntryId: state.config.Id},
			UpdatedAt:          state.tracker.now(),
		})
	}
	state.pending = nil
}

// Starting state

type icStartingState struct {
	ActorState
	actor *IammeterCoordinatorActor
}

func (s icStartingState) Name() string {
	return "starting"
}

func (s icStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		s.actor.logger.Debug(s.Name(), "started")
		s.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		s.actor.tracker.register(s.actor.device, s.actor.sensors)
		s.actor.requestRefresh(ctx)
		s.actor.Become(icFirstRefreshState{actor: s.actor})
	default:
		s.actor.logger.Debug(s.Name(), "stash", MessageType(msg))
		s.actor.stash.Stash(ctx, msg)
	}
}

// First refresh state

type icFirstRefreshState struct {
	ActorState
	actor *IammeterCoordinatorActor
}

func (s icFirstRefreshState) Name() string {
	return "firstRefresh"
}

func (s icFirstRefreshState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RefreshModbusDataResponse:
		err := s.actor.apply(s.Name(), msg)
		if err != nil && !errors.Is(err, iammeter_modbus.ErrNoData) {
			// supervisor restarts with backoff
			panic(err)
		}
		s.actor.logger.Info(s.Name(), "meter ready", zap.String("type", string(s.actor.config.DeviceType())))
		s.actor.scheduleTick(ctx)
		s.actor.Become(icIdleState{actor: s.actor})
		s.actor.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		s.actor.health(ctx, s, false)
	case *actor.Restarting:
		s.actor.stopPolling()
	case *actor.Stopping:
		s.actor.stopPolling()
	default:
		s.actor.logger.Debug(s.Name(), "stash", MessageType(msg))
		s.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type icIdleState struct {
	ActorState
	actor *IammeterCoordinatorActor
}

func (s icIdleState) Name() string {
	return "idle"
}

func (s icIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case iammeterTick:
		s.actor.logger.Debug(s.Name(), "tick")
		s.actor.cancelTick = nil
		s.actor.requestRefresh(ctx)
		s.actor.BecomeStacked(icRefreshingState{actor: s.actor, fromTick: true})
	case domain.CoordinatorRefreshRequest:
		s.actor.logger.Debug(s.Name(), "CoordinatorRefreshRequest")
		if replyTo := ForRequest(msg).ReplyTo(ctx); replyTo != nil {
			s.actor.pending = append(s.actor.pending, replyTo)
		}
		s.actor.requestRefresh(ctx)
		s.actor.BecomeStacked(icRefreshingState{actor: s.actor, fromTick: false})
	case domain.ActorHealthRequest:
		s.actor.health(ctx, s, true)
	case *actor.Restarting:
		s.actor.stopPolling()
	case *actor.Stopping:
		s.actor.logger.Debug(s.Name(), "stopping")
		s.actor.stopPolling()
	default:
		s.actor.logger.Debug(s.Name(), "unhandled", MessageType(msg))
	}
}

// Refreshing state

type icRefreshingState struct {
	ActorState
	actor    *IammeterCoordinatorActor
	fromTick bool
}

func (s icRefreshingState) Name() string {
	return "refreshing"
}

func (s icRefreshingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RefreshModbusDataResponse:
		err := s.actor.apply(s.Name(), msg)
		s.actor.respondPending(ctx, err)
		if s.fromTick {
			s.actor.scheduleTick(ctx)
		}
		s.actor.UnbecomeStacked()
		s.actor.stash.UnstashAll(ctx)
	case domain.CoordinatorRefreshRequest:
		// joins the refresh in flight
		if replyTo := ForRequest(msg).ReplyTo(ctx); replyTo != nil {
			s.actor.pending = append(s.actor.pending, replyTo)
		}
	case domain.ActorHealthRequest:
		s.actor.health(ctx, s, true)
	case *actor.Restarting:
		s.actor.stopPolling()
	case *actor.Stopping:
		s.actor.stopPolling()
	default:
		s.actor.logger.Debug(s.Name(), "stash", MessageType(msg))
		s.actor.stash.Stash(ctx, msg)
	}
}
