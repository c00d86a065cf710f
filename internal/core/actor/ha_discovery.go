package actor

import (
	"errors"
	"time"

	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const HA_DISCOVERY_TIMEOUT = 5 * time.Second

var ErrMQTTNotHealthy = errors.New("mqtt actor is not healthy")

// HADiscoveryActor publishes discovery configs once MQTT is up. The bridge
// device comes first, every entry device is linked to it through via_device.
type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	mqttActor *actor.PID
	sensors   []domain.GenericSensor

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		sensors:   DiscoverySensors(config),
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

// DiscoverySensors lists the bridge sensors followed by the sensors of every
// enabled entry.
func DiscoverySensors(cfg *config.Config) []domain.GenericSensor {
	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors := domain.BridgeSensors(bridgeDevice)

	for _, ic := range cfg.Iammeter {
		if ic.Disabled {
			continue
		}
		device := domain.IammeterDevice(ic.Name, ic.DeviceType())
		device.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, linkDevice(domain.IammeterSensors(ic.Id, device, ic.Name, ic.DeviceType()))...)
	}
	for _, cc := range cfg.Cez {
		if cc.Disabled {
			continue
		}
		device := domain.CezDevice(cc.Device)
		device.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, linkDevice(domain.CezSensors(cc.Id, device, cc.Device))...)
	}
	return sensors
}

// linkDevice keeps the full device on the first sensor only.
func linkDevice(sensors []domain.GenericSensor) []domain.GenericSensor {
	for i := range sensors {
		if i > 0 {
			sensors[i].Device = domain.IdDevice(sensors[i].Device)
		}
	}
	return sensors
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting stash", actorutil.MessageType(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(ErrMQTTNotHealthy)
		}
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: state.sensors,
		}, HA_DISCOVERY_TIMEOUT), func(err error) any {
			return domain.PublishDiscoveryResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
			}
		})
		state.behavior.Become(state.WaitingPublishReceive)
	default:
		state.logger.Debug("hadiscovery@healthcheck stash", actorutil.MessageType(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingPublishReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Info("hadiscovery@publish done", zap.Int("sensors", len(state.sensors)))
		state.behavior.Become(state.DoneReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@publish stash", actorutil.MessageType(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DoneReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "done",
		})
	default:
		state.logger.Debug("hadiscovery@done unhandled", actorutil.MessageType(msg))
	}
}
