package actor

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/service"
	. "github.com/berfenger/meterbridge/internal/util/actorutil"
	"github.com/berfenger/meterbridge/pkg/pnd"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const (
	// top of every hour, seconds field first
	CEZ_SCHEDULE       = "0 0 * * * *"
	CEZ_IMPORT_TIMEOUT = 30 * time.Second
)

// CezCoordinatorActor imports one hour of PND data per run. Runs are
// triggered hourly by a cron job and once on start. A tick that arrives while
// a run is in flight is dropped.
type CezCoordinatorActor struct {
	ActorWithStates
	config       config.CezConfig
	fetchActor   *actor.PID
	fetchTimeout time.Duration
	accumulator  *service.StatisticsAccumulator
	device       domain.Device
	sensors      []domain.GenericSensor
	tracker      *entryTracker
	cron         quartz.Scheduler
	pending      []*actor.PID
	stash        *Stash
	id           string

	logger StateLogger
}

type cezTick struct {
}

type fetchWindow struct {
	from time.Time
	to   time.Time
}

type cezImportResult struct {
	totals  service.EnergyTotals
	results []service.AccumulateResult
	err     error
}

func NewCezCoordinatorActor(cfg config.CezConfig, fetchActor *actor.PID, fetchTimeout time.Duration, accumulator *service.StatisticsAccumulator, deps EntryDeps) *CezCoordinatorActor {
	device := domain.CezDevice(cfg.Device)
	act := &CezCoordinatorActor{
		config:       cfg,
		fetchActor:   fetchActor,
		fetchTimeout: fetchTimeout,
		accumulator:  accumulator,
		device:       device,
		sensors:      domain.CezSensors(cfg.Id, device, cfg.Device),
		tracker:      newEntryTracker(cfg.Id, deps),
		stash:        &Stash{},
		id:           domain.EntryActorId(domain.ACTOR_ID_CEZ, cfg.Id),
		logger: StateLogger{
			Actor:  domain.ACTOR_ID_CEZ,
			Logger: ActorLogger(domain.ACTOR_ID_CEZ, deps.Logger).With(zap.String("entry", cfg.Id)),
		},
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(cezStartingState{actor: act})
	return act
}

func (state *CezCoordinatorActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (state *CezCoordinatorActor) startCron(ctx actor.Context) error {
	sched := quartz.NewStdScheduler()
	trigger, err := quartz.NewCronTriggerWithLoc(CEZ_SCHEDULE, state.config.Location())
	if err != nil {
		return err
	}
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	tickJob := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		root.Send(self, cezTick{})
		return true, nil
	})
	sched.Start(context.Background())
	if err := sched.ScheduleJob(quartz.NewJobDetail(tickJob, quartz.NewJobKey(state.id)), trigger); err != nil {
		sched.Stop()
		return err
	}
	state.cron = sched
	return nil
}

func (state *CezCoordinatorActor) stopCron() {
	if state.cron != nil {
		state.cron.Stop()
		state.cron = nil
	}
}

func (state *CezCoordinatorActor) startRun(ctx actor.Context) {
	from, to := service.FetchWindow(state.tracker.now(), state.config.Location(), state.config.Offset())
	state.logger.Debug("idle", "fetching", zap.Time("from", from), zap.Time("to", to))
	req := domain.FetchMeasurementsRequest{
		Query: pnd.Query{From: from, To: to, Device: state.config.Device},
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.fetchActor, req, state.fetchTimeout), func(err error) any {
		return domain.FetchMeasurementsResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		}
	})
	state.BecomeStacked(cezFetchingState{actor: state, window: fetchWindow{from: from, to: to}})
}

func (state *CezCoordinatorActor) importTotals(ctx actor.Context, window fetchWindow, totals service.EnergyTotals) {
	acc := state.accumulator
	pndDevice := state.config.Device
	NewBackgroundTask(ctx, func() (*cezImportResult, error) {
		importCtx, cancel := context.WithTimeout(context.Background(), CEZ_IMPORT_TIMEOUT)
		defer cancel()
		results, err := acc.AccumulateEnergy(importCtx, pndDevice, window.from, window.to, totals)
		if err != nil {
			return nil, err
		}
		return &cezImportResult{totals: totals, results: results}, nil
	}).Recover(func(err error) cezImportResult {
		return cezImportResult{totals: totals, err: err}
	}).WithTimeout(CEZ_IMPORT_TIMEOUT + time.Second).PipeTo(ctx.Self())
}

// finishRun reports the run to waiting callers and goes back to idle.
func (state *CezCoordinatorActor) finishRun(ctx actor.Context, err error) {
	for _, pid := range state.pending {
		ctx.Send(pid, domain.CoordinatorRefreshResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			EntryMixIn:         domain.EntryMixIn{EntryId: state.config.Id},
			UpdatedAt:          state.tracker.now(),
		})
	}
	state.pending = nil
	state.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *CezCoordinatorActor) failRun(ctx actor.Context, name string, err error) {
	if errors.Is(err, pnd.ErrAuth) {
		state.logger.Error(name, "portal rejected credentials, check username and password", zap.Error(err))
	} else {
		state.logger.Error(name, "run failed", zap.Error(err))
	}
	state.tracker.failed(err)
	state.finishRun(ctx, err)
}

func (state *CezCoordinatorActor) health(ctx actor.Context, s ActorState) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      state.id,
		Healthy: true,
		State:   s.Name(),
	})
}

// Starting state

type cezStartingState struct {
	ActorState
	actor *CezCoordinatorActor
}

func (s cezStartingState) Name() string {
	return "starting"
}

func (s cezStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		s.actor.logger.Debug(s.Name(), "started")
		s.actor.tracker.register(s.actor.device, s.actor.sensors)
		if !s.actor.config.DisablePolling {
			if err := s.actor.startCron(ctx); err != nil {
				s.actor.logger.Error(s.Name(), "cannot schedule imports", zap.Error(err))
				panic(err)
			}
		}
		// first run, like the hourly ones
		ctx.Send(ctx.Self(), cezTick{})
		s.actor.Become(cezIdleState{actor: s.actor})
		s.actor.stash.UnstashAll(ctx)
	default:
		s.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type cezIdleState struct {
	ActorState
	actor *CezCoordinatorActor
}

func (s cezIdleState) Name() string {
	return "idle"
}

func (s cezIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case cezTick:
		s.actor.startRun(ctx)
	case domain.CoordinatorRefreshRequest:
		if replyTo := ForRequest(msg).ReplyTo(ctx); replyTo != nil {
			s.actor.pending = append(s.actor.pending, replyTo)
		}
		s.actor.startRun(ctx)
	case domain.ActorHealthRequest:
		s.actor.health(ctx, s)
	case *actor.Restarting:
		s.actor.stopCron()
	case *actor.Stopping:
		s.actor.logger.Debug(s.Name(), "stopping")
		s.actor.stopCron()
	default:
		s.actor.logger.Debug(s.Name(), "unhandled", MessageType(msg))
	}
}

// Fetching state

type cezFetchingState struct {
	ActorState
	actor  *CezCoordinatorActor
	window fetchWindow
}

func (s cezFetchingState) Name() string {
	return "fetching"
}

func (s cezFetchingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.FetchMeasurementsResponse:
		if msg.HasResponseError() {
			s.actor.failRun(ctx, s.Name(), msg.GetResponseError())
			return
		}
		totals := service.AggregateEnergy(msg.Measurements)
		if totals.Samples == 0 {
			s.actor.logger.Warn(s.Name(), "no measurements in window", zap.Time("from", s.window.from))
		}
		s.actor.logger.Debug(s.Name(), "aggregated",
			zap.Int("samples", totals.Samples),
			zap.Float64("consumed", totals.ConsumedKWh),
			zap.Float64("returned", totals.ReturnedKWh))
		s.actor.importTotals(ctx, s.window, totals)
		s.actor.UnbecomeStacked()
		s.actor.BecomeStacked(cezImportingState{actor: s.actor, window: s.window})
	default:
		handleRunMessage(ctx, s.actor, s)
	}
}

// Importing state

type cezImportingState struct {
	ActorState
	actor  *CezCoordinatorActor
	window fetchWindow
}

func (s cezImportingState) Name() string {
	return "importing"
}

func (s cezImportingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case cezImportResult:
		if msg.err != nil {
			s.actor.failRun(ctx, s.Name(), msg.err)
			return
		}
		for _, r := range msg.results {
			s.actor.tracker.deps.Metrics.SetStatisticSum(r.StatisticId, r.Sum)
		}
		s.actor.tracker.succeeded(s.actor.sensors, map[string]float64{
			domain.SENSOR_ID_CONSUMED_ENERGY: msg.totals.ConsumedKWh,
			domain.SENSOR_ID_RETURNED_ENERGY: msg.totals.ReturnedKWh,
		})
		s.actor.logger.Info(s.Name(), "hour imported", zap.Time("from", s.window.from))
		s.actor.finishRun(ctx, nil)
	default:
		handleRunMessage(ctx, s.actor, s)
	}
}

// handleRunMessage covers what both run states do alike.
func handleRunMessage(ctx actor.Context, act *CezCoordinatorActor, s ActorState) {
	switch msg := ctx.Message().(type) {
	case cezTick:
		act.logger.Warn(s.Name(), "run in progress, tick dropped")
	case domain.CoordinatorRefreshRequest:
		if replyTo := ForRequest(msg).ReplyTo(ctx); replyTo != nil {
			act.pending = append(act.pending, replyTo)
		}
	case domain.ActorHealthRequest:
		act.health(ctx, s)
	case *actor.Restarting:
		act.stopCron()
	case *actor.Stopping:
		act.stopCron()
	default:
		act.logger.Debug(s.Name(), "stash", MessageType(msg))
		act.stash.Stash(ctx, msg)
	}
}
