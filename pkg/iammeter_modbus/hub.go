package iammeter_modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DEFAULT_UNIT_ID       uint8 = 1
	DEFAULT_PORT          uint  = 502
	DEFAULT_TIMEOUT             = 2 * time.Second
	DEFAULT_RETRY_BACKOFF       = 5 * time.Second
)

type HubConfig struct {
	Name         string
	Host         string
	Port         uint
	Type         DeviceType
	UnitId       uint8
	Timeout      time.Duration
	RetryBackoff time.Duration
	Logger       *zap.Logger
	// optional, receives the duration of every Modbus call
	Instrumentation *ModbusInstrument
}

func (cfg *HubConfig) applyDefaults() {
	if cfg.UnitId == 0 {
		cfg.UnitId = DEFAULT_UNIT_ID
	}
	if cfg.Port == 0 {
		cfg.Port = DEFAULT_PORT
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_TIMEOUT
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DEFAULT_RETRY_BACKOFF
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// Hub owns the connection to one meter. Every transaction goes through mutex,
// so at most one request is in flight.
type Hub struct {
	name         string
	deviceType   DeviceType
	client       RegisterClient
	timeout      time.Duration
	retryBackoff time.Duration
	logger       *zap.Logger

	mutex     sync.Mutex
	connected bool
}

func NewHub(cfg HubConfig) (*Hub, error) {
	cfg.applyDefaults()
	if cfg.Host == "" {
		return nil, errors.New("iammeter hub: host is required")
	}
	if _, err := ProfileOf(cfg.Type); err != nil {
		return nil, err
	}
	client, err := CreateModbusRegisterClient(cfg.Host, cfg.Port, cfg.UnitId, cfg.Timeout, cfg.Logger, cfg.Instrumentation)
	if err != nil {
		return nil, err
	}
	return NewHubWithClient(cfg, client)
}

func NewHubWithClient(cfg HubConfig, client RegisterClient) (*Hub, error) {
	cfg.applyDefaults()
	if _, err := ProfileOf(cfg.Type); err != nil {
		return nil, err
	}
	return &Hub{
		name:         cfg.Name,
		deviceType:   cfg.Type,
		client:       client,
		timeout:      cfg.Timeout,
		retryBackoff: cfg.RetryBackoff,
		logger:       cfg.Logger.With(zap.String("hub", cfg.Name)),
	}, nil
}

func (hub *Hub) Name() string {
	return hub.name
}

func (hub *Hub) DeviceType() DeviceType {
	return hub.deviceType
}

// Connect opens the client unless it is already connected.
func (hub *Hub) Connect() error {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.connected {
		return nil
	}
	if err := hub.client.Open(); err != nil {
		return err
	}
	hub.connected = true
	return nil
}

func (hub *Hub) Close() error {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	hub.connected = false
	return hub.client.Close()
}

func (hub *Hub) Connected() bool {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return hub.connected
}

func (hub *Hub) ReadHoldingRegisters(addr uint16, count uint16) ([]uint16, error) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return hub.client.ReadRegisters(addr, count)
}

// MaxRefreshDuration bounds a single Refresh call: two attempts of connect and
// read plus the retry backoff.
func (hub *Hub) MaxRefreshDuration() time.Duration {
	return 2*2*hub.timeout + hub.retryBackoff + time.Second
}

// Refresh polls the meter once. An I/O failure closes the connection, waits
// the retry backoff and tries exactly one more time. Errors wrapping ErrNoData
// mean no update this cycle and are never retried.
func (hub *Hub) Refresh(ctx context.Context) (Snapshot, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(hub.retryBackoff), 1), ctx)
	snapshot, err := backoff.RetryNotifyWithData(func() (Snapshot, error) {
		s, err := hub.poll()
		if errors.Is(err, ErrNoData) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	}, policy, func(err error, wait time.Duration) {
		hub.logger.Warn("modbus poll failed, reconnecting", zap.Error(err), zap.Duration("wait", wait))
		if cerr := hub.Close(); cerr != nil {
			hub.logger.Debug("error closing modbus connection", zap.Error(cerr))
		}
	})
	if err != nil {
		if errors.Is(err, ErrNoData) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// next poll starts from a fresh connection
		_ = hub.Close()
		return nil, fmt.Errorf("%w: %s after retry: %w", ErrUpdateFailed, hub.name, err)
	}
	return snapshot, nil
}

func (hub *Hub) poll() (Snapshot, error) {
	if err := hub.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	regs, err := hub.ReadHoldingRegisters(0, RegisterCount(hub.deviceType))
	if err != nil {
		if IsExceptionResponse(err) {
			return nil, fmt.Errorf("%w: %w", ErrNoData, err)
		}
		return nil, fmt.Errorf("read registers: %w", err)
	}
	snapshot, err := Decode(hub.deviceType, regs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}
	return snapshot, nil
}
