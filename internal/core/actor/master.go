package actor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	adactor "github.com/berfenger/meterbridge/internal/adapter/actor"
	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/port"
	"github.com/berfenger/meterbridge/internal/core/service"
	"github.com/berfenger/meterbridge/internal/metrics"
	"github.com/berfenger/meterbridge/internal/registry"
	. "github.com/berfenger/meterbridge/internal/util/actorutil"
	"github.com/berfenger/meterbridge/pkg/pnd"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const (
	HEALTH_CHECK_TIMEOUT = time.Second
	// added to the hub's own deadline before the coordinator gives up
	REFRESH_GRACE = 2 * time.Second
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type MeterHubProvider func(config.IammeterConfig) (port.MeterHub, error)

type FetcherProvider func(config.CezConfig) (pnd.Fetcher, error)

type Providers struct {
	MQTT     MQTTActorProvider
	MeterHub MeterHubProvider
	Fetcher  FetcherProvider
}

type MasterDeps struct {
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Store    port.StatisticsStore
	Logger   *zap.Logger
}

// MasterOfPuppetsActor spawns the MQTT actor and one actor pair per enabled
// entry, routes manual refreshes and aggregates health checks.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	mqttActor          *actor.PID
	children           map[string]*actor.PID
	coordinators       map[string]*actor.PID
	providers          Providers
	deps               MasterDeps
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected  map[string]bool
	unhealthy []string
	respondTo *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, deps MasterDeps, providers Providers) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:       config,
		behavior:     actor.NewBehavior(),
		stash:        &Stash{},
		logger:       ActorLogger(domain.ACTOR_ID_MASTER, deps.Logger),
		eventStream:  &eventstream.EventStream{},
		children:     map[string]*actor.PID{},
		coordinators: map[string]*actor.PID{},
		providers:    providers,
		deps:         deps,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		mqttActorPID, err := state.spawn(ctx, domain.ACTOR_ID_MQTT, func() actor.Actor {
			return state.providers.MQTT(state.eventStream)
		})
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		for _, ic := range state.config.Iammeter {
			if ic.Disabled {
				state.logger.Info("master@starting entry disabled", zap.String("entry", ic.Id))
				continue
			}
			if err := state.startIammeter(ctx, ic); err != nil {
				state.entrySetupFailed(ic.Id, err)
			}
		}
		for _, cc := range state.config.Cez {
			if cc.Disabled {
				state.logger.Info("master@starting entry disabled", zap.String("entry", cc.Id))
				continue
			}
			if err := state.startCez(ctx, cc); err != nil {
				state.entrySetupFailed(cc.Id, err)
			}
		}

		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.spawn(ctx, domain.ACTOR_ID_HA_DISCOVERY, func() actor.Actor {
				return NewHADiscoveryActor(&state.config, state.mqttActor, state.logger)
			})
			if err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", MessageType(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(ctx.Sender())
		for id, pid := range state.children {
			state.currentHealthCheck.expected[id] = true
			childId := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, HEALTH_CHECK_TIMEOUT/2), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      childId,
					Healthy: false,
				}
			})
		}
		if len(state.currentHealthCheck.expected) == 0 {
			state.currentHealthCheck.respond(ctx)
			return
		}
		ctx.SetReceiveTimeout(HEALTH_CHECK_TIMEOUT)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.CoordinatorRefreshRequest:
		replyTo := ForRequest(msg).ReplyTo(ctx)
		pid, ok := state.coordinators[msg.EntryId]
		if !ok {
			if replyTo != nil {
				ctx.Send(replyTo, domain.CoordinatorRefreshResponse{
					ActorResponseMixIn: domain.ErrorResponse(fmt.Errorf("%w: %s", registry.ErrEntryNotFound, msg.EntryId)),
					EntryMixIn:         msg.EntryMixIn,
				})
			}
			return
		}
		msg.ReplyToRef = RefOf(replyTo)
		ctx.Send(pid, msg)
	default:
		state.logger.Debug("master@default unhandled", MessageType(msg))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// children that did not answer count as unhealthy
		for id := range state.currentHealthCheck.expected {
			state.currentHealthCheck.unhealthy = append(state.currentHealthCheck.unhealthy, id)
		}
		state.finishHealthCheck(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !state.currentHealthCheck.expected[msg.Id] {
			return
		}
		delete(state.currentHealthCheck.expected, msg.Id)
		if !msg.Healthy {
			state.currentHealthCheck.unhealthy = append(state.currentHealthCheck.unhealthy, msg.Id)
		}
		if len(state.currentHealthCheck.expected) == 0 {
			state.finishHealthCheck(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", MessageType(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) finishHealthCheck(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentHealthCheck.respond(ctx)
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MasterOfPuppetsActor) startIammeter(ctx actor.Context, ic config.IammeterConfig) error {
	hub, err := state.providers.MeterHub(ic)
	if err != nil {
		return err
	}
	modbusId := domain.EntryActorId(domain.ACTOR_ID_MODBUS, ic.Id)
	modbusPID, err := state.spawn(ctx, modbusId, func() actor.Actor {
		return adactor.NewModbusActor(ic.Id, hub, state.logger)
	})
	if err != nil {
		return err
	}
	refreshTimeout := hub.MaxRefreshDuration() + REFRESH_GRACE
	coordinatorId := domain.EntryActorId(domain.ACTOR_ID_IAMMETER, ic.Id)
	coordinatorPID, err := state.spawn(ctx, coordinatorId, func() actor.Actor {
		return NewIammeterCoordinatorActor(ic, modbusPID, refreshTimeout, state.entryDeps())
	})
	if err != nil {
		return err
	}
	state.coordinators[ic.Id] = coordinatorPID
	return nil
}

func (state *MasterOfPuppetsActor) startCez(ctx actor.Context, cc config.CezConfig) error {
	fetcher, err := state.providers.Fetcher(cc)
	if err != nil {
		return err
	}
	pndId := domain.EntryActorId(domain.ACTOR_ID_PND, cc.Id)
	pndPID, err := state.spawn(ctx, pndId, func() actor.Actor {
		return adactor.NewPNDFetchActor(cc.Id, fetcher, state.logger)
	})
	if err != nil {
		return err
	}
	accumulator := &service.StatisticsAccumulator{
		Store:  state.deps.Store,
		Logger: state.logger.With(zap.String("entry", cc.Id)),
	}
	coordinatorId := domain.EntryActorId(domain.ACTOR_ID_CEZ, cc.Id)
	coordinatorPID, err := state.spawn(ctx, coordinatorId, func() actor.Actor {
		return NewCezCoordinatorActor(cc, pndPID, adactor.PND_FETCH_TIMEOUT+REFRESH_GRACE, accumulator, state.entryDeps())
	})
	if err != nil {
		return err
	}
	state.coordinators[cc.Id] = coordinatorPID
	return nil
}

// spawn starts a named child and adds it to the health check. Failing
// children are restarted by the supervisor of this actor.
func (state *MasterOfPuppetsActor) spawn(ctx actor.Context, id string, producer actor.Producer) (*actor.PID, error) {
	pid, err := ctx.SpawnNamed(actor.PropsFromProducer(producer), id)
	if err != nil {
		return nil, err
	}
	state.children[id] = pid
	return pid, nil
}

func (state *MasterOfPuppetsActor) entrySetupFailed(entryId string, err error) {
	state.logger.Error("master@starting entry setup failed", zap.String("entry", entryId), zap.Error(err))
	if state.deps.Registry == nil {
		return
	}
	_ = state.deps.Registry.UpdateState(entryId, func(s *registry.EntryState) {
		s.Available = false
		s.LastError = err.Error()
	})
}

func (state *MasterOfPuppetsActor) entryDeps() EntryDeps {
	return EntryDeps{
		Registry:    state.deps.Registry,
		Metrics:     state.deps.Metrics,
		EventStream: state.eventStream,
		Logger:      state.deps.Logger,
	}
}

func (state *healthCheckResult) reset(respondTo *actor.PID) {
	state.expected = map[string]bool{}
	state.unhealthy = nil
	state.respondTo = respondTo
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	sort.Strings(state.unhealthy)
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: len(state.unhealthy) == 0,
		State:   "ok",
	}
	if !resp.Healthy {
		resp.State = "unhealthy: " + strings.Join(state.unhealthy, ",")
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
