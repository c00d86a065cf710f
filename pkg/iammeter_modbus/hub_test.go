package iammeter_modbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBackoff = 50 * time.Millisecond

func testHub(t *testing.T, deviceType DeviceType, client *TestRegisterClient) *Hub {
	hub, err := NewHubWithClient(HubConfig{
		Name:         "test meter",
		Type:         deviceType,
		RetryBackoff: testBackoff,
		Logger:       zap.Must(zap.NewDevelopment()),
	}, client)
	require.NoError(t, err)
	return hub
}

func TestHubRefreshSuccess(t *testing.T) {
	assert := assert.New(t)

	client := CreateTestRegisterClient(DEVICE_TYPE_WEM3080)
	hub := testHub(t, DEVICE_TYPE_WEM3080, client)

	snapshot, err := hub.Refresh(context.Background())
	assert.NoError(err)
	assert.InDelta(230.1, snapshot[KEY_VOLTAGE_A], 1e-9)
	assert.Equal(1, client.Opens())
	assert.Equal(1, client.Reads())
	assert.Equal(0, client.Closes())
	assert.True(hub.Connected())

	// connection is kept between polls
	_, err = hub.Refresh(context.Background())
	assert.NoError(err)
	assert.Equal(1, client.Opens())
	assert.Equal(2, client.Reads())
}

func TestHubRefreshRetriesOnceThenSucceeds(t *testing.T) {
	assert := assert.New(t)

	client := &TestRegisterClient{Responses: []TestResponse{
		{Err: modbus.ErrRequestTimedOut},
		{Registers: TestThreePhaseRegisters()},
	}}
	hub := testHub(t, DEVICE_TYPE_WEM3080T, client)

	start := time.Now()
	snapshot, err := hub.Refresh(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.InDelta(50.0, snapshot[KEY_FREQUENCY], 1e-9)
	assert.GreaterOrEqual(elapsed, testBackoff)
	assert.Equal(2, client.Reads())
	assert.Equal(2, client.Opens())
	assert.Equal(1, client.Closes())
}

func TestHubRefreshFailsAfterSingleRetry(t *testing.T) {
	assert := assert.New(t)

	ioErr := errors.New("connection reset by peer")
	client := &TestRegisterClient{Responses: []TestResponse{{Err: ioErr}}}
	hub := testHub(t, DEVICE_TYPE_WEM3080T, client)

	start := time.Now()
	snapshot, err := hub.Refresh(context.Background())
	elapsed := time.Since(start)

	assert.Nil(snapshot)
	assert.ErrorIs(err, ErrUpdateFailed)
	assert.ErrorIs(err, ioErr)
	assert.GreaterOrEqual(elapsed, testBackoff)
	assert.Less(elapsed, 3*testBackoff)
	// exactly one retry
	assert.Equal(2, client.Reads())
	assert.Equal(2, client.Opens())
	assert.Equal(2, client.Closes())
	assert.False(hub.Connected())
}

func TestHubRefreshConnectFailureIsRetried(t *testing.T) {
	assert := assert.New(t)

	client := CreateTestRegisterClient(DEVICE_TYPE_WEM3080)
	client.OpenErrors = []error{errors.New("dial tcp: connection refused")}
	hub := testHub(t, DEVICE_TYPE_WEM3080, client)

	snapshot, err := hub.Refresh(context.Background())
	assert.NoError(err)
	assert.NotNil(snapshot)
	assert.Equal(2, client.Opens())
	assert.Equal(1, client.Reads())
}

func TestHubRefreshExceptionResponseIsNoData(t *testing.T) {
	assert := assert.New(t)

	client := &TestRegisterClient{Responses: []TestResponse{{Err: modbus.ErrIllegalDataAddress}}}
	hub := testHub(t, DEVICE_TYPE_WEM3080, client)

	snapshot, err := hub.Refresh(context.Background())
	assert.Nil(snapshot)
	assert.ErrorIs(err, ErrNoData)
	assert.NotErrorIs(err, ErrUpdateFailed)
	assert.Equal(1, client.Reads())
	assert.Equal(0, client.Closes())
}

func TestHubRefreshShortBufferIsNoData(t *testing.T) {
	assert := assert.New(t)

	client := &TestRegisterClient{Responses: []TestResponse{{Registers: TestThreePhaseRegisters()[:20]}}}
	hub := testHub(t, DEVICE_TYPE_WEM3080T, client)

	snapshot, err := hub.Refresh(context.Background())
	assert.Nil(snapshot)
	assert.ErrorIs(err, ErrNoData)
	assert.ErrorIs(err, ErrShortBuffer)
	assert.Equal(1, client.Reads())
}

func TestHubRefreshCanceledDuringBackoff(t *testing.T) {
	assert := assert.New(t)

	client := &TestRegisterClient{Responses: []TestResponse{{Err: modbus.ErrRequestTimedOut}}}
	hub, err := NewHubWithClient(HubConfig{
		Name:         "slow",
		Type:         DEVICE_TYPE_WEM3080,
		RetryBackoff: time.Minute,
	}, client)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testBackoff)
	defer cancel()
	_, err = hub.Refresh(ctx)
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.Equal(1, client.Reads())
}

func TestHubConnectIsIdempotent(t *testing.T) {
	assert := assert.New(t)

	client := CreateTestRegisterClient(DEVICE_TYPE_WEM3080)
	hub := testHub(t, DEVICE_TYPE_WEM3080, client)

	assert.NoError(hub.Connect())
	assert.NoError(hub.Connect())
	assert.Equal(1, client.Opens())

	assert.NoError(hub.Close())
	assert.False(hub.Connected())
	assert.NoError(hub.Connect())
	assert.Equal(2, client.Opens())
}

func TestHubMaxRefreshDuration(t *testing.T) {
	hub := testHub(t, DEVICE_TYPE_WEM3080, CreateTestRegisterClient(DEVICE_TYPE_WEM3080))
	// 2 attempts x (connect + read) x 2s + 50ms backoff + 1s slack
	assert.Equal(t, 9*time.Second+testBackoff, hub.MaxRefreshDuration())
}

func TestNewHubRejectsUnknownType(t *testing.T) {
	_, err := NewHubWithClient(HubConfig{Type: "WEM9999"}, &TestRegisterClient{})
	assert.ErrorIs(t, err, ErrUnknownDeviceType)
}
