package server

import (
	"net/http"
	"time"

	"github.com/ecozmo/robobridge/internal/config"
	"github.com/ecozmo/robobridge/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type HealthResponse struct {
	Status           string `json:"status"`
	DevicesConnected int    `json:"devices_connected"`
	Message          string `json:"message,omitempty"`
}

type DeviceStatusResponse struct {
	DeviceId      string     `json:"device_id"`
	Name          string     `json:"name"`
	Online        bool       `json:"online"`
	BatteryLevel  *int       `json:"battery_level"`
	CleaningState *string    `json:"cleaning_state"`
	ErrorMessage  *string    `json:"error_message"`
	LastUpdated   *time.Time `json:"last_updated"`
}

type DeviceListResponse struct {
	Devices []DeviceStatusResponse `json:"devices"`
	Count   int                    `json:"count"`
}

type CommandResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	DeviceId string `json:"device_id"`
}

type RegionRequest struct {
	Country   string `json:"country"`
	Continent string `json:"continent"`
}

type BridgeStateResponse struct {
	State       string `json:"state"`
	Country     string `json:"country"`
	Continent   string `json:"continent"`
	DeviceCount int    `json:"device_count"`
	LastError   string `json:"last_error,omitempty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/", s.RootHandler)
	e.GET("/health", s.HealthHandler)
	e.GET("/devices", s.ListDevicesHandler)
	e.GET("/devices/:id/status", s.DeviceStatusHandler)

	e.POST("/devices/:id/start", s.CommandHandler(domain.CommandStartClean))
	e.POST("/devices/:id/stop", s.CommandHandler(domain.CommandStopClean))
	e.POST("/devices/:id/pause", s.CommandHandler(domain.CommandPauseClean))
	e.POST("/devices/:id/dock", s.CommandHandler(domain.CommandReturnToDock))
	e.POST("/devices/:id/locate", s.CommandHandler(domain.CommandLocate))

	e.POST("/debug/test-config", s.TestConfigHandler)
	e.GET("/debug/auth", s.AuthStateHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	return e
}

func (s *Server) RootHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{
		Service: "robobridge",
		Version: versioninfo.Short(),
	})
}

// HealthHandler is the initialization trigger: the vendor session is
// started on the first call and reused afterwards.
func (s *Server) HealthHandler(c echo.Context) error {
	s.metrics.initAttempts.Inc()
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.InitializeRequest{}, s.initTimeout).Result()
	if err != nil {
		s.metrics.initFailures.Inc()
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Message: err.Error(),
		})
	}
	response, ok := res.(domain.InitializeResponse)
	if !ok || response.HasResponseError() {
		s.metrics.initFailures.Inc()
		message := "initialization failed"
		if ok && response.GetResponseError() != nil {
			message = response.GetResponseError().Error()
		}
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Message: message,
		})
	}
	s.metrics.devicesTracked.Set(float64(response.DeviceCount))
	return c.JSON(http.StatusOK, HealthResponse{
		Status:           "healthy",
		DevicesConnected: response.DeviceCount,
	})
}

func (s *Server) ListDevicesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.GetDevicesRequest{}, s.commandTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetDevicesResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	devices := make([]DeviceStatusResponse, 0, len(response.Devices))
	for _, device := range response.Devices {
		devices = append(devices, toDeviceStatusResponse(device))
	}
	s.metrics.devicesTracked.Set(float64(len(devices)))
	return c.JSON(http.StatusOK, DeviceListResponse{Devices: devices, Count: len(devices)})
}

func (s *Server) DeviceStatusHandler(c echo.Context) error {
	s.metrics.statusRequests.Inc()
	deviceId := c.Param("id")
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.GetDeviceStatusRequest{
		DeviceId: deviceId,
	}, s.commandTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetDeviceStatusResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if !response.Found {
		return echo.NewHTTPError(http.StatusNotFound, "unknown device "+deviceId)
	}
	return c.JSON(http.StatusOK, toDeviceStatusResponse(response.Status))
}

// CommandHandler builds the handler for one imperative command route.
// Failures are reported in the body with success=false, never as an
// HTTP error: unknown device, inactive session and vendor rejection
// all look the same to the caller.
func (s *Server) CommandHandler(kind domain.CommandKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		deviceId := c.Param("id")
		res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.DeviceCommandRequest{
			DeviceId: deviceId,
			Kind:     kind,
		}, s.commandTimeout).Result()
		if err != nil {
			s.metrics.observeCommand(string(kind), false)
			return c.JSON(http.StatusOK, CommandResponse{
				Success:  false,
				Message:  "command timed out",
				DeviceId: deviceId,
			})
		}
		response, ok := res.(domain.DeviceCommandResponse)
		if !ok {
			return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
		}
		s.metrics.observeCommand(string(kind), response.Success)
		out := CommandResponse{Success: response.Success, DeviceId: deviceId}
		if !response.Success {
			out.Message = "command failed"
		}
		return c.JSON(http.StatusOK, out)
	}
}

// TestConfigHandler swaps the region selector and forces a fresh
// session against it. Troubleshooting surface for region mismatches.
func (s *Server) TestConfigHandler(c echo.Context) error {
	var req RegionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	// region may also arrive as query parameters
	if req.Country == "" {
		req.Country = c.QueryParam("country")
	}
	if req.Continent == "" {
		req.Continent = c.QueryParam("continent")
	}
	country, err := config.CheckCountryCode(req.Country)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	continent, err := config.CheckContinentCode(req.Continent)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.metrics.initAttempts.Inc()
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.SetRegionRequest{
		Country:   country,
		Continent: continent,
	}, s.initTimeout).Result()
	if err != nil {
		s.metrics.initFailures.Inc()
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Message: err.Error(),
		})
	}
	response, ok := res.(domain.InitializeResponse)
	if !ok || response.HasResponseError() {
		s.metrics.initFailures.Inc()
		message := "initialization failed"
		if ok && response.GetResponseError() != nil {
			message = response.GetResponseError().Error()
		}
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Message: message,
		})
	}
	s.metrics.devicesTracked.Set(float64(response.DeviceCount))
	return c.JSON(http.StatusOK, HealthResponse{
		Status:           "healthy",
		DevicesConnected: response.DeviceCount,
	})
}

func (s *Server) AuthStateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.BridgeStateRequest{}, s.commandTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.BridgeStateResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	return c.JSON(http.StatusOK, BridgeStateResponse{
		State:       string(response.State),
		Country:     response.Country,
		Continent:   response.Continent,
		DeviceCount: response.DeviceCount,
		LastError:   response.LastError,
	})
}

func toDeviceStatusResponse(status domain.VacuumStatus) DeviceStatusResponse {
	return DeviceStatusResponse{
		DeviceId:      status.DeviceId,
		Name:          status.Name,
		Online:        status.Online,
		BatteryLevel:  status.BatteryLevel,
		CleaningState: status.CleaningState,
		ErrorMessage:  status.ErrorMessage,
		LastUpdated:   status.LastUpdated,
	}
}
