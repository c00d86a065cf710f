package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/meterbridge/internal/adapter/actor"
	"github.com/berfenger/meterbridge/internal/adapter/storage"
	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/port"
	"github.com/berfenger/meterbridge/internal/metrics"
	"github.com/berfenger/meterbridge/internal/registry"
	"github.com/berfenger/meterbridge/internal/util"
	"github.com/berfenger/meterbridge/internal/util/actorutil"
	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"
	"github.com/berfenger/meterbridge/pkg/pnd"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProviders(cfg *config.Config, logger *zap.Logger) Providers {
	return Providers{
		MQTT: func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(cfg, es, logger)
		},
		MeterHub: func(ic config.IammeterConfig) (port.MeterHub, error) {
			return iammeter_modbus.NewHubWithClient(iammeter_modbus.HubConfig{
				Name:         ic.Name,
				Host:         ic.Host,
				Type:         ic.DeviceType(),
				RetryBackoff: 20 * time.Millisecond,
				Timeout:      100 * time.Millisecond,
				Logger:       logger,
			}, iammeter_modbus.CreateTestRegisterClient(ic.DeviceType()))
		},
		Fetcher: func(config.CezConfig) (pnd.Fetcher, error) {
			return pnd.CreateTestFetcher(), nil
		},
	}
}

func testEntries(t *testing.T, cfg config.Config) *registry.Registry {
	var entries []registry.Entry
	for _, ic := range cfg.Iammeter {
		entries = append(entries, ic.Entry())
	}
	for _, cc := range cfg.Cez {
		entries = append(entries, cc.Entry())
	}
	return testRegistry(t, entries...)
}

func TestMasterActor(t *testing.T) {
	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	reg := testEntries(t, cfg)
	store := storage.NewMemoryStatisticsStore()
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, MasterDeps{
			Registry: reg,
			Metrics:  metrics.New(),
			Store:    store,
			Logger:   logger,
		}, testProviders(&cfg, logger))
	}, actor.WithSupervisor(actorutil.ExponentialSupervisor(50*time.Millisecond)))
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)

	assert.Eventually(func() bool {
		res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 3*time.Second).Result()
		if err != nil {
			return false
		}
		return res.(domain.ActorHealthResponse).Healthy
	}, 5*time.Second, 50*time.Millisecond)

	assert.Eventually(func() bool {
		s, _ := reg.State("iammeter_test")
		return s.Available
	}, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(func() bool {
		return store.Imports() == 2
	}, 3*time.Second, 20*time.Millisecond)

	res, err := context.RequestFuture(pid, domain.CoordinatorRefreshRequest{
		EntryMixIn: domain.EntryMixIn{EntryId: "iammeter_test"},
	}, 5*time.Second).Result()
	require.NoError(t, err)
	refresh := res.(domain.CoordinatorRefreshResponse)
	assert.NoError(refresh.GetResponseError())
	assert.Equal("iammeter_test", refresh.EntryId)

	res, err = context.RequestFuture(pid, domain.CoordinatorRefreshRequest{
		EntryMixIn: domain.EntryMixIn{EntryId: "nope"},
	}, time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(res.(domain.CoordinatorRefreshResponse).GetResponseError(), registry.ErrEntryNotFound)

	require.NoError(t, context.StopFuture(pid).Wait())
}

func TestMasterSkipsDisabledEntries(t *testing.T) {
	assert := assert.New(t)
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := util.LoadTestConfig()
	cfg.Cez[0].Disabled = true
	cfg.MQTT.HADiscoveryEnable = false
	reg := testEntries(t, cfg)
	store := storage.NewMemoryStatisticsStore()

	master := NewMasterOfPuppetsActor(cfg, MasterDeps{Registry: reg, Store: store, Logger: logger}, testProviders(&cfg, logger))
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return master }))

	res, err := as.Root.RequestFuture(pid, domain.CoordinatorRefreshRequest{
		EntryMixIn: domain.EntryMixIn{EntryId: "cez_test"},
	}, time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(res.(domain.CoordinatorRefreshResponse).GetResponseError(), registry.ErrEntryNotFound)
	assert.Equal(0, store.Imports())
}
