package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/meterbridge/internal/registry"
	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"
	"github.com/berfenger/meterbridge/pkg/pnd"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

const (
	// entries with this host run against scripted devices
	TEST_HOST = "test"

	DEFAULT_IAMMETER_NAME    = "IamMeter"
	DEFAULT_IAMMETER_TYPE    = iammeter_modbus.DEVICE_TYPE_WEM3080T
	DEFAULT_SCAN_INTERVAL    = 3
	DEFAULT_TIME_ZONE        = "Europe/Prague"
	DEFAULT_OFFSET_HOURS     = 13
	DEFAULT_SELENIUM_URL     = "http://localhost:4444"
	DEFAULT_SELENIUM_DRIVER  = "chromedriver"
	DEFAULT_DATABASE_MAXCONN = 4
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig       `mapstructure:"mqtt"`
	Iammeter []IammeterConfig `mapstructure:"iammeter"`
	Cez      []CezConfig      `mapstructure:"cez"`
	Database DatabaseConfig   `mapstructure:"database"`
	Port     uint             `mapstructure:"port"`
	HttpLog  bool             `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type IammeterConfig struct {
	Id             string
	Name           string
	Host           string
	Port           uint
	Type           string
	UnitId         uint8  `mapstructure:"unit_id"`
	ScanInterval   uint   `mapstructure:"scan_interval"`
	TimeoutMillis  uint32 `mapstructure:"timeout_millis"`
	Disabled       bool
	DisablePolling bool `mapstructure:"disable_polling"`
}

type SeleniumConfig struct {
	Remote bool
	URL    string `mapstructure:"url"`
	Driver string
}

type CezConfig struct {
	Id             string
	Name           string
	Username       string
	Password       string
	Device         string
	TimeZone       string `mapstructure:"time_zone"`
	OffsetHours    uint   `mapstructure:"offset_hours"`
	PortalURL      string `mapstructure:"portal_url"`
	Selenium       SeleniumConfig
	Disabled       bool
	DisablePolling bool `mapstructure:"disable_polling"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Normalize fills entry defaults, fixes topics and checks bounds.
func (cfg *Config) Normalize() error {
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// ids name actors, topics and registry entries, so they are shared by both lists
	ids := map[string]bool{}
	assignId := func(id *string) error {
		if *id == "" {
			*id = uuid.NewString()
		}
		if ids[*id] {
			return fmt.Errorf("duplicate id %q", *id)
		}
		ids[*id] = true
		return nil
	}

	names := map[string]bool{}
	for i := range cfg.Iammeter {
		c := &cfg.Iammeter[i]
		if err := assignId(&c.Id); err != nil {
			return fmt.Errorf("iammeter[%d]: %w", i, err)
		}
		c.applyDefaults()
		if err := c.validate(); err != nil {
			return fmt.Errorf("iammeter[%d]: %w", i, err)
		}
		if names[c.Name] {
			return fmt.Errorf("iammeter[%d]: duplicate name %q", i, c.Name)
		}
		names[c.Name] = true
	}

	devices := map[string]bool{}
	for i := range cfg.Cez {
		c := &cfg.Cez[i]
		if err := assignId(&c.Id); err != nil {
			return fmt.Errorf("cez[%d]: %w", i, err)
		}
		c.applyDefaults()
		if err := c.validate(); err != nil {
			return fmt.Errorf("cez[%d]: %w", i, err)
		}
		if devices[c.Device] {
			return fmt.Errorf("cez[%d]: duplicate device %q", i, c.Device)
		}
		devices[c.Device] = true
	}

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = DEFAULT_DATABASE_MAXCONN
	}
	return nil
}

func (c *IammeterConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = DEFAULT_IAMMETER_NAME
	}
	if c.Port == 0 {
		c.Port = iammeter_modbus.DEFAULT_PORT
	}
	if c.Type == "" {
		c.Type = string(DEFAULT_IAMMETER_TYPE)
	}
	if c.UnitId == 0 {
		c.UnitId = iammeter_modbus.DEFAULT_UNIT_ID
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = DEFAULT_SCAN_INTERVAL
	}
	if c.TimeoutMillis == 0 {
		c.TimeoutMillis = uint32(iammeter_modbus.DEFAULT_TIMEOUT.Milliseconds())
	}
}

func (c *IammeterConfig) validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	t, err := iammeter_modbus.ParseDeviceType(c.Type)
	if err != nil {
		return err
	}
	c.Type = string(t)
	if c.ScanInterval < 1 {
		return errors.New("scan_interval should be >= 1")
	}
	if c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

func (c IammeterConfig) DeviceType() iammeter_modbus.DeviceType {
	return iammeter_modbus.DeviceType(c.Type)
}

func (c IammeterConfig) Interval() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

func (c IammeterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c IammeterConfig) Entry() registry.Entry {
	return registry.Entry{
		ID:             c.Id,
		Domain:         registry.DOMAIN_IAMMETER,
		Title:          c.Name,
		Disabled:       c.Disabled,
		DisablePolling: c.DisablePolling,
		Data: map[string]any{
			"name":          c.Name,
			"host":          c.Host,
			"port":          c.Port,
			"type":          c.Type,
			"unit_id":       c.UnitId,
			"scan_interval": c.ScanInterval,
		},
	}
}

func (c *CezConfig) applyDefaults() {
	if c.TimeZone == "" {
		c.TimeZone = DEFAULT_TIME_ZONE
	}
	if c.OffsetHours == 0 {
		c.OffsetHours = DEFAULT_OFFSET_HOURS
	}
	if c.PortalURL == "" {
		c.PortalURL = pnd.DEFAULT_PORTAL_URL
	}
	if c.Selenium.URL == "" {
		c.Selenium.URL = DEFAULT_SELENIUM_URL
	}
	if c.Selenium.Driver == "" {
		c.Selenium.Driver = DEFAULT_SELENIUM_DRIVER
	}
	if c.Name == "" {
		c.Name = c.Device
	}
}

func (c *CezConfig) validate() error {
	if c.Device == "" {
		return errors.New("device is required")
	}
	if c.Username == "" || c.Password == "" {
		return errors.New("username and password are required")
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}
	return nil
}

func (c CezConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c CezConfig) Offset() time.Duration {
	return time.Duration(c.OffsetHours) * time.Hour
}

func (c CezConfig) Entry() registry.Entry {
	return registry.Entry{
		ID:             c.Id,
		Domain:         registry.DOMAIN_CEZ,
		Title:          c.Name,
		Disabled:       c.Disabled,
		DisablePolling: c.DisablePolling,
		Data: map[string]any{
			"username":     c.Username,
			"password":     c.Password,
			"device":       c.Device,
			"time_zone":    c.TimeZone,
			"offset_hours": c.OffsetHours,
			"browser": map[string]any{
				"remote": c.Selenium.Remote,
				"url":    c.Selenium.URL,
				"driver": c.Selenium.Driver,
			},
		},
	}
}

// Redacted returns a copy safe to print.
func (cfg Config) Redacted() Config {
	const redacted = "*redacted*"
	cfg.MQTT.Username = redacted
	cfg.MQTT.Password = redacted
	if cfg.Database.DSN != "" {
		cfg.Database.DSN = redacted
	}
	cez := make([]CezConfig, len(cfg.Cez))
	for i, c := range cfg.Cez {
		c.Username = redacted
		c.Password = redacted
		cez[i] = c
	}
	cfg.Cez = cez
	return cfg
}
