package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/util"
	"github.com/berfenger/meterbridge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// discoveryProbe stands in for the MQTT actor.
type discoveryProbe struct {
	mutex    sync.Mutex
	healthy  bool
	requests []domain.PublishDiscoveryRequest
}

func (p *discoveryProbe) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		p.mutex.Lock()
		healthy := p.healthy
		p.mutex.Unlock()
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MQTT, Healthy: healthy})
	case domain.PublishDiscoveryRequest:
		p.mutex.Lock()
		p.requests = append(p.requests, msg)
		p.mutex.Unlock()
		ctx.Respond(domain.PublishDiscoveryResponse{})
	}
}

func (p *discoveryProbe) published() []domain.PublishDiscoveryRequest {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]domain.PublishDiscoveryRequest(nil), p.requests...)
}

func (p *discoveryProbe) setHealthy(healthy bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.healthy = healthy
}

func TestDiscoverySensors(t *testing.T) {
	assert := assert.New(t)
	cfg := util.LoadTestConfig()

	sensors := DiscoverySensors(&cfg)
	// bridge, three phase meter, PND device
	require.Len(t, sensors, 1+22+2)
	bridge := sensors[0]
	assert.Equal(domain.SENSOR_ID_BRIDGE_STATE, bridge.Id)

	meter := sensors[1]
	assert.Equal("iammeter_test", meter.EntryId)
	assert.Equal(bridge.Device.Id, meter.Device.ViaDevice)
	assert.Equal(domain.MANUFACTURER_IAMMETER, meter.Device.Manufacturer)
	// later sensors only reference the device
	assert.Empty(sensors[2].Device.Manufacturer)
	assert.Equal(meter.Device.Id, sensors[2].Device.Id)

	pndSensor := sensors[23]
	assert.Equal("cez_test", pndSensor.EntryId)
	assert.Equal(bridge.Device.Id, pndSensor.Device.ViaDevice)

	cfg.Iammeter[0].Disabled = true
	assert.Len(DiscoverySensors(&cfg), 3)
}

func TestHADiscoveryActorPublishesOnce(t *testing.T) {
	assert := assert.New(t)
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := util.LoadTestConfig()
	probe := &discoveryProbe{healthy: true}
	mqttPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return probe }))
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&cfg, mqttPID, logger)
	}))

	assert.Eventually(func() bool {
		return len(probe.published()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(probe.published()[0].Sensors, 25)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Equal("done", res.(domain.ActorHealthResponse).State)
	assert.Len(probe.published(), 1)
}

func TestHADiscoveryActorWaitsForMQTT(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := util.LoadTestConfig()
	probe := &discoveryProbe{healthy: false}
	mqttPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return probe }))

	parent := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(*actor.Started); ok {
			ctx.Spawn(actor.PropsFromProducer(func() actor.Actor {
				return NewHADiscoveryActor(&cfg, mqttPID, logger)
			}))
		}
	}, actor.WithSupervisor(actorutil.ExponentialSupervisor(20*time.Millisecond))))
	defer as.Root.Stop(parent)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, probe.published())

	probe.setHealthy(true)
	assert.Eventually(t, func() bool {
		return len(probe.published()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}
