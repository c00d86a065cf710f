package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/port"
	"github.com/berfenger/meterbridge/internal/metrics"
	"github.com/berfenger/meterbridge/internal/registry"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	registry    *registry.Registry
	store       port.StatisticsStore
	metrics     *metrics.Metrics
}

type Deps struct {
	Registry *registry.Registry
	Store    port.StatisticsStore
	Metrics  *metrics.Metrics
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, deps Deps) *http.Server {
	NewServer := &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		httpLog:     cfg.HttpLog,
		registry:    deps.Registry,
		store:       deps.Store,
		metrics:     deps.Metrics,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
