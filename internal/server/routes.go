package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/diagnostics"
	"github.com/berfenger/meterbridge/internal/registry"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const REFRESH_TIMEOUT = 2 * time.Minute

type entrySummary struct {
	Id         string    `json:"entry_id"`
	Domain     string    `json:"domain"`
	Title      string    `json:"title"`
	Disabled   bool      `json:"disabled"`
	Available  bool      `json:"available"`
	LastUpdate time.Time `json:"last_update,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type statisticPoint struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

type refreshResult struct {
	EntryId   string    `json:"entry_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	e.GET("/entries", s.EntriesHandler)
	e.GET("/entries/:entry_id/diagnostics", s.DiagnosticsHandler)
	e.POST("/entries/:entry_id/refresh", s.RefreshHandler)
	e.GET("/statistics/:statistic_id", s.StatisticsHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) EntriesHandler(c echo.Context) error {
	entries := s.registry.List()
	out := make([]entrySummary, 0, len(entries))
	for _, e := range entries {
		st, _ := s.registry.State(e.ID)
		out = append(out, entrySummary{
			Id:         e.ID,
			Domain:     e.Domain,
			Title:      e.Title,
			Disabled:   e.Disabled,
			Available:  st.Available,
			LastUpdate: st.LastUpdate,
			LastError:  st.LastError,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) DiagnosticsHandler(c echo.Context) error {
	id := c.Param("entry_id")
	entry, ok := s.registry.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown entry "+id)
	}
	st, _ := s.registry.State(id)
	return c.JSON(http.StatusOK, diagnostics.Build(entry, st))
}

func (s *Server) RefreshHandler(c echo.Context) error {
	id := c.Param("entry_id")
	if _, ok := s.registry.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown entry "+id)
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.CoordinatorRefreshRequest{
		EntryMixIn: domain.EntryMixIn{EntryId: id},
	}, REFRESH_TIMEOUT).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	resp, ok := res.(domain.CoordinatorRefreshResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if resp.HasResponseError() {
		if errors.Is(resp.GetResponseError(), registry.ErrEntryNotFound) {
			// disabled entries have no coordinator
			return echo.NewHTTPError(http.StatusConflict, resp.GetResponseError().Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, resp.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, refreshResult{EntryId: resp.EntryId, UpdatedAt: resp.UpdatedAt})
}

func (s *Server) StatisticsHandler(c echo.Context) error {
	points, err := s.store.Points(c.Request().Context(), c.Param("statistic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(points) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no statistics")
	}
	out := make([]statisticPoint, 0, len(points))
	for _, p := range points {
		out = append(out, statisticPoint{Start: p.Start, State: p.State, Sum: p.Sum})
	}
	return c.JSON(http.StatusOK, out)
}
