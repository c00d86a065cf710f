package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/meterbridge/internal/adapter/actor"
	"github.com/berfenger/meterbridge/internal/adapter/storage"
	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/actor"
	"github.com/berfenger/meterbridge/internal/core/port"
	"github.com/berfenger/meterbridge/internal/metrics"
	"github.com/berfenger/meterbridge/internal/registry"
	"github.com/berfenger/meterbridge/internal/server"
	"github.com/berfenger/meterbridge/internal/util/actorutil"
	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"
	"github.com/berfenger/meterbridge/pkg/pnd"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	store, closeStore, err := statisticsStore(cfg, logger)
	if err != nil {
		logger.Fatal("statistics store", zap.Error(err))
	}
	defer closeStore()

	reg, err := populateRegistry(cfg)
	if err != nil {
		logger.Fatal("entries", zap.Error(err))
	}

	m := metrics.New()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, actor.MasterDeps{
			Registry: reg,
			Metrics:  m,
			Store:    store,
			Logger:   logger,
		}, providers(cfg, m, logger))
	}, pactor.WithSupervisor(actorutil.ExponentialSupervisor(time.Second)))
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Fatal("master actor", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, server.Deps{
		Registry: reg,
		Store:    store,
		Metrics:  m,
	})
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master stop", zap.Error(err))
	}
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => METERBRIDGE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("METERBRIDGE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("meterbridge")
	viper.AutomaticEnv()

	// entries are lists, so they come from the config file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "meterbridge")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("database.max_conns", config.DEFAULT_DATABASE_MAXCONN)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	slog.Info("Using", "config", cfg.Redacted())
}

// statisticsStore uses Postgres when a DSN is configured and memory otherwise.
func statisticsStore(cfg *config.Config, logger *zap.Logger) (port.StatisticsStore, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database configured, statistics are kept in memory")
		return storage.NewMemoryStatisticsStore(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pg, err := storage.NewPostgresStatisticsStore(ctx, cfg.Database.DSN, cfg.Database.MaxConns, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func populateRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	for _, ic := range cfg.Iammeter {
		if _, err := reg.Add(ic.Entry()); err != nil {
			return nil, err
		}
	}
	for _, cc := range cfg.Cez {
		if _, err := reg.Add(cc.Entry()); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// providers build real clients. An iammeter host or a PND portal url of
// "test" selects scripted devices.
func providers(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) actor.Providers {
	return actor.Providers{
		MQTT: func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewMQTTActor(cfg, es, logger)
		},
		MeterHub: func(ic config.IammeterConfig) (port.MeterHub, error) {
			hubCfg := iammeter_modbus.HubConfig{
				Name:            ic.Name,
				Host:            ic.Host,
				Port:            ic.Port,
				Type:            ic.DeviceType(),
				UnitId:          ic.UnitId,
				Timeout:         ic.Timeout(),
				Logger:          logger,
				Instrumentation: m.ModbusInstrument(ic.Id),
			}
			if ic.Host == config.TEST_HOST {
				return iammeter_modbus.NewHubWithClient(hubCfg, iammeter_modbus.CreateTestRegisterClient(ic.DeviceType()))
			}
			return iammeter_modbus.NewHub(hubCfg)
		},
		Fetcher: func(cc config.CezConfig) (pnd.Fetcher, error) {
			if cc.PortalURL == config.TEST_HOST {
				return pnd.CreateTestFetcher(), nil
			}
			return pnd.NewClient(pnd.ClientConfig{
				PortalURL: cc.PortalURL,
				Credentials: pnd.Credentials{
					Username: cc.Username,
					Password: cc.Password,
				},
				Browser: pnd.BrowserOptions{
					Remote: cc.Selenium.Remote,
					URL:    cc.Selenium.URL,
					Driver: cc.Selenium.Driver,
				},
				Location: cc.Location(),
				Logger:   logger,
			})
		},
	}
}
