package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berfenger/meterbridge/internal/adapter/storage"
	"github.com/berfenger/meterbridge/internal/config"
	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/metrics"
	"github.com/berfenger/meterbridge/internal/registry"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler  http.Handler
	registry *registry.Registry
	store    *storage.MemoryStatisticsStore
}

func newTestServer(t *testing.T, healthy bool) *testServer {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)

	master := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		case domain.CoordinatorRefreshRequest:
			ctx.Respond(domain.CoordinatorRefreshResponse{
				EntryMixIn: msg.EntryMixIn,
				UpdatedAt:  time.Date(2024, 10, 2, 9, 0, 0, 0, time.UTC),
			})
		}
	}))

	reg := registry.New()
	_, err := reg.Add(config.CezConfig{Id: "c1", Name: "Home", Username: "user", Password: "secret", Device: "ELM 1234"}.Entry())
	require.NoError(t, err)
	require.NoError(t, reg.SetState("c1", registry.EntryState{Available: true}))

	store := storage.NewMemoryStatisticsStore()
	s := &Server{
		rootContext: as.Root,
		masterActor: master,
		registry:    reg,
		store:       store,
		metrics:     metrics.New(),
	}
	return &testServer{handler: s.RegisterRoutes(), registry: reg, store: store}
}

func (ts *testServer) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := newTestServer(t, true).do(http.MethodGet, "/healthcheck")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	rec = newTestServer(t, false).do(http.MethodGet, "/healthcheck")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDiagnosticsRedacts(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodGet, "/entries/c1/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(body, "secret")
	assert.Contains(body, "**REDACTED**")

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(true, out["available"])

	rec = ts.do(http.MethodGet, "/entries/nope/diagnostics")
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestEntriesAndRefresh(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodGet, "/entries")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []entrySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(registry.DOMAIN_CEZ, entries[0].Domain)
	assert.True(entries[0].Available)

	rec = ts.do(http.MethodPost, "/entries/c1/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), `"entry_id":"c1"`)

	rec = ts.do(http.MethodPost, "/entries/nope/refresh")
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestStatisticsAndMetrics(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t, true)

	start := time.Date(2024, 10, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, ts.store.Import(context.Background(), domain.StatisticMetadata{StatisticId: "sensor.x"},
		[]domain.StatisticPoint{{Start: start, State: 1.5, Sum: 4.5}}))

	rec := ts.do(http.MethodGet, "/statistics/sensor.x")
	require.Equal(t, http.StatusOK, rec.Code)
	var points []statisticPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(4.5, points[0].Sum)
	assert.True(points[0].Start.Equal(start))

	assert.Equal(http.StatusNotFound, ts.do(http.MethodGet, "/statistics/sensor.y").Code)

	rec = ts.do(http.MethodGet, "/metrics")
	assert.Equal(http.StatusOK, rec.Code)
	assert.True(strings.Contains(rec.Body.String(), "go_goroutines"))
}
