package iammeter_modbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// RegisterClient is the transport a Hub polls through.
type RegisterClient interface {
	Open() error
	Close() error
	ReadRegisters(addr uint16, quantity uint16) ([]uint16, error)
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

type modbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

var _ RegisterClient = (*modbusClient)(nil)

func CreateModbusRegisterClient(host string, port uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (RegisterClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "iammeter"), zap.String("host", host), zap.Uint8("unit", unitId)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if err := client.SetUnitId(unitId); err != nil {
		return nil, err
	}
	if err := client.SetEncoding(modbus.BIG_ENDIAN, modbus.HIGH_WORD_FIRST); err != nil {
		return nil, err
	}
	return &modbusClient{
		client:     client,
		instrument: inst,
	}, nil
}

func (reader *modbusClient) Open() error {
	defer RecordTimer("Open", reader.instrument)()
	return reader.client.Open()
}

func (reader *modbusClient) Close() error {
	return reader.client.Close()
}

func (reader *modbusClient) ReadRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", reader.instrument)()
	return reader.client.ReadRegisters(addr, quantity, modbus.HOLDING_REGISTER)
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if logger == nil {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug(fmt.Sprintf("modbus [%s]: %d millis", fnName, readTime.Milliseconds()))
		},
	}
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

// exceptionErrors are well formed Modbus exception responses. The device is
// reachable but refused the request, so retrying the socket does not help.
var exceptionErrors = []error{
	modbus.ErrIllegalFunction,
	modbus.ErrIllegalDataAddress,
	modbus.ErrIllegalDataValue,
	modbus.ErrServerDeviceFailure,
	modbus.ErrAcknowledge,
	modbus.ErrServerDeviceBusy,
	modbus.ErrMemoryParityError,
	modbus.ErrGWPathUnavailable,
	modbus.ErrGWTargetFailedToRespond,
}

func IsExceptionResponse(err error) bool {
	for _, e := range exceptionErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
