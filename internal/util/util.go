package util

import (
	"github.com/berfenger/meterbridge/internal/config"

	"go.uber.org/zap"
)

// LoadTestConfig returns a normalized config with one scripted entry of each
// integration.
func LoadTestConfig() config.Config {
	cfg := config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "meterbridge",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Iammeter: []config.IammeterConfig{{
			Id:           "iammeter_test",
			Name:         "Test Meter",
			Host:         config.TEST_HOST,
			Type:         "WEM3080T",
			ScanInterval: 1,
		}},
		Cez: []config.CezConfig{{
			Id:       "cez_test",
			Device:   "ELM 1234",
			Username: "user",
			Password: "password",
			Selenium: config.SeleniumConfig{Driver: "chromedriver"},
		}},
		Port: 8080,
	}
	if err := cfg.Normalize(); err != nil {
		panic(err)
	}
	return cfg
}
