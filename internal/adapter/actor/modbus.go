package actor

import (
	"context"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/port"
	"github.com/berfenger/meterbridge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ModbusActor serializes refreshes of one hub. While a refresh is in flight
// every other message is stashed.
type ModbusActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	hub      port.MeterHub
	id       string
	cancel   context.CancelFunc
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewModbusActor(entryId string, hub port.MeterHub, logger *zap.Logger) *ModbusActor {
	act := &ModbusActor{
		hub:      hub,
		id:       domain.EntryActorId(domain.ACTOR_ID_MODBUS, entryId),
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MODBUS, logger).With(zap.String("hub", hub.Name())),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *ModbusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ModbusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("modbus@default started")
	case domain.ActorHealthRequest:
		state.logger.Debug("modbus@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.id,
			Healthy: true,
			State:   "idle",
		})
	case domain.RefreshModbusDataRequest:
		state.logger.Debug("modbus@default RefreshModbusDataRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		refreshCtx, cancel := context.WithTimeout(context.Background(), state.hub.MaxRefreshDuration())
		state.cancel = cancel
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.RefreshModbusDataResponse {
			defer cancel()
			return state.refresh(refreshCtx)
		}), mapTaskResult[domain.RefreshModbusDataResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.RefreshModbusDataResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
				},
				replyTo: sender,
			}
		}).WithTimeout(state.hub.MaxRefreshDuration() + time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingModbus)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("modbus@default unhandled", actorutil.MessageType(msg))
	}
}

func (state *ModbusActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("modbus@waiting backgroundTaskResult", actorutil.MessageType(msg.message))
		state.cancel = nil
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.id,
			Healthy: true,
			State:   "refreshing",
		})
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("modbus@waiting stash", actorutil.MessageType(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ModbusActor) refresh(ctx context.Context) *domain.RefreshModbusDataResponse {
	snapshot, err := state.hub.Refresh(ctx)
	if err != nil {
		return &domain.RefreshModbusDataResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		}
	}
	return &domain.RefreshModbusDataResponse{
		Snapshot: snapshot,
	}
}

func (state *ModbusActor) close() {
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	if err := state.hub.Close(); err != nil {
		state.logger.Warn("modbus close failed", zap.Error(err))
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
