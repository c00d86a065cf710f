package port

import (
	"context"
	"time"

	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"
)

// MeterHub polls one meter. Refresh performs a complete poll including its
// own retry.
type MeterHub interface {
	Name() string
	DeviceType() iammeter_modbus.DeviceType
	Refresh(ctx context.Context) (iammeter_modbus.Snapshot, error)
	MaxRefreshDuration() time.Duration
	Close() error
}

var _ MeterHub = (*iammeter_modbus.Hub)(nil)
