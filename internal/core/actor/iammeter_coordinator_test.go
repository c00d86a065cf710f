package actor

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	adactor "github.com/berfenger/meterbridge/internal/adapter/actor"
	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/metrics"
	"github.com/berfenger/meterbridge/internal/util/actorutil"
	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testIammeterConfig(pollSeconds uint) config.IammeterConfig {
	return config.IammeterConfig{
		Id:             "e1",
		Name:           "Garage",
		Host:           config.TEST_HOST,
		Type:           string(iammeter_modbus.DEVICE_TYPE_WEM3080T),
		ScanInterval:   pollSeconds,
		DisablePolling: pollSeconds == 0,
	}
}

func spawnIammeter(t *testing.T, as *actor.ActorSystem, cfg config.IammeterConfig, client *iammeter_modbus.TestRegisterClient, deps EntryDeps) (*actor.PID, *iammeter_modbus.Hub) {
	hub, err := iammeter_modbus.NewHubWithClient(iammeter_modbus.HubConfig{
		Name:         cfg.Name,
		Host:         cfg.Host,
		Type:         cfg.DeviceType(),
		RetryBackoff: 20 * time.Millisecond,
		Timeout:      100 * time.Millisecond,
		Logger:       deps.Logger,
	}, client)
	require.NoError(t, err)
	modbusPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewModbusActor(cfg.Id, hub, deps.Logger)
	}))
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewIammeterCoordinatorActor(cfg, modbusPID, hub.MaxRefreshDuration()+REFRESH_GRACE, deps)
	}, actor.WithSupervisor(actorutil.ExponentialSupervisor(50*time.Millisecond))))
	return pid, hub
}

func TestIammeterCoordinatorFirstRefresh(t *testing.T) {
	assert := assert.New(t)
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := testIammeterConfig(0)
	es := &eventstream.EventStream{}
	rec := recordEvents(es)
	m := metrics.New()
	reg := testRegistry(t, cfg.Entry())
	client := iammeter_modbus.CreateTestRegisterClient(cfg.DeviceType())
	pid, _ := spawnIammeter(t, as, cfg, client, EntryDeps{Registry: reg, Metrics: m, EventStream: es, Logger: logger})

	assert.Eventually(func() bool {
		s, ok := reg.State("e1")
		return ok && s.Available
	}, 3*time.Second, 10*time.Millisecond)

	s, _ := reg.State("e1")
	assert.Len(s.Values, 22)
	assert.Len(s.Sensors, 22)
	assert.Equal("iammeter_garage", s.Device.Id)
	assert.Equal([]bool{true}, rec.availability("e1"))
	assert.Equal(50.0, rec.values()["garage_frequency"])

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health := result.(domain.ActorHealthResponse)
	assert.True(health.Healthy)
	assert.Equal("iammeter_e1", health.Id)
	assert.Equal("idle", health.State)

	// polling disabled
	time.Sleep(200 * time.Millisecond)
	assert.Equal(1, client.Reads())

	rw := httptest.NewRecorder()
	m.Handler().ServeHTTP(rw, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(strings.Contains(rw.Body.String(), `meterbridge_poll_total{entry="e1",result="success"} 1`))
}

func TestIammeterCoordinatorPolls(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := testIammeterConfig(1)
	reg := testRegistry(t, cfg.Entry())
	client := iammeter_modbus.CreateTestRegisterClient(cfg.DeviceType())
	spawnIammeter(t, as, cfg, client, EntryDeps{Registry: reg, EventStream: &eventstream.EventStream{}, Logger: logger})

	assert.Eventually(t, func() bool {
		return client.Reads() >= 3
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, client.Opens())
}

func TestIammeterCoordinatorManualRefresh(t *testing.T) {
	assert := assert.New(t)
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := testIammeterConfig(0)
	reg := testRegistry(t, cfg.Entry())
	client := iammeter_modbus.CreateTestRegisterClient(cfg.DeviceType())
	pid, _ := spawnIammeter(t, as, cfg, client, EntryDeps{Registry: reg, Logger: logger})

	result, err := as.Root.RequestFuture(pid, domain.CoordinatorRefreshRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.CoordinatorRefreshResponse)
	assert.False(resp.HasResponseError())
	assert.Equal("e1", resp.EntryId)
	assert.Equal(2, client.Reads())
}

func TestIammeterCoordinatorRetriesFirstRefresh(t *testing.T) {
	assert := assert.New(t)
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := testIammeterConfig(0)
	es := &eventstream.EventStream{}
	rec := recordEvents(es)
	reg := testRegistry(t, cfg.Entry())
	regs := iammeter_modbus.TestThreePhaseRegisters()
	// first refresh fails on both attempts, the restarted coordinator succeeds
	client := &iammeter_modbus.TestRegisterClient{
		Responses: []iammeter_modbus.TestResponse{
			{Err: errors.New("connection reset")},
			{Err: errors.New("connection reset")},
			{Registers: regs},
		},
	}
	spawnIammeter(t, as, cfg, client, EntryDeps{Registry: reg, EventStream: es, Logger: logger})

	assert.Eventually(func() bool {
		s, ok := reg.State("e1")
		return ok && s.Available
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal([]bool{false, true}, rec.availability("e1"))
	s, _ := reg.State("e1")
	assert.Empty(s.LastError)
}

func TestIammeterCoordinatorNoDataKeepsEntry(t *testing.T) {
	assert := assert.New(t)
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := testIammeterConfig(0)
	es := &eventstream.EventStream{}
	rec := recordEvents(es)
	reg := testRegistry(t, cfg.Entry())
	client := &iammeter_modbus.TestRegisterClient{
		Responses: []iammeter_modbus.TestResponse{{Registers: []uint16{1, 2}}},
	}
	pid, _ := spawnIammeter(t, as, cfg, client, EntryDeps{Registry: reg, EventStream: es, Logger: logger})

	// no data does not fail the setup
	assert.Eventually(func() bool {
		result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
		return err == nil && result.(domain.ActorHealthResponse).Healthy
	}, 3*time.Second, 20*time.Millisecond)
	assert.Empty(rec.availability("e1"))
	s, _ := reg.State("e1")
	assert.NotEmpty(s.LastError)
	assert.Empty(s.Values)
}
