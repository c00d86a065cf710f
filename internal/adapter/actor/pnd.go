package actor

import (
	"context"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/util/actorutil"
	"github.com/berfenger/meterbridge/pkg/pnd"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// login plus export download
const PND_FETCH_TIMEOUT = 2*pnd.DEFAULT_TIMEOUT + 10*time.Second

// PNDFetchActor runs portal fetches of one entry one at a time.
type PNDFetchActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	fetcher  pnd.Fetcher
	id       string
	timeout  time.Duration
	cancel   context.CancelFunc
	logger   *zap.Logger
}

func NewPNDFetchActor(entryId string, fetcher pnd.Fetcher, logger *zap.Logger) *PNDFetchActor {
	act := &PNDFetchActor{
		fetcher:  fetcher,
		id:       domain.EntryActorId(domain.ACTOR_ID_PND, entryId),
		timeout:  PND_FETCH_TIMEOUT,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_PND, logger).With(zap.String("entry", entryId)),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PNDFetchActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PNDFetchActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.id,
			Healthy: true,
			State:   "idle",
		})
	case domain.FetchMeasurementsRequest:
		state.logger.Debug("pnd@default FetchMeasurementsRequest",
			zap.Time("from", msg.Query.From), zap.Time("to", msg.Query.To))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		query := msg.Query

		fetchCtx, cancel := context.WithTimeout(context.Background(), state.timeout)
		state.cancel = cancel
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.FetchMeasurementsResponse {
			defer cancel()
			measurements, err := state.fetcher.FetchMeasurements(fetchCtx, query)
			return &domain.FetchMeasurementsResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
				Measurements:       measurements,
			}
		}), mapTaskResult[domain.FetchMeasurementsResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.FetchMeasurementsResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
				},
				replyTo: sender,
			}
		}).WithTimeout(state.timeout + time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingFetch)
	case *actor.Stopping:
		state.abort()
	default:
		state.logger.Debug("pnd@default unhandled", actorutil.MessageType(msg))
	}
}

func (state *PNDFetchActor) WaitingFetch(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("pnd@waiting backgroundTaskResult", actorutil.MessageType(msg.message))
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
			State:   "fetching",
		})
	case *actor.Stopping:
		state.abort()
	default:
		state.logger.Debug("pnd@waiting stash", actorutil.MessageType(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PNDFetchActor) abort() {
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
}
