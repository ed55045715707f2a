package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	adactor "github.com/ecozmo/robobridge/internal/adapter/actor"
	coreactor "github.com/ecozmo/robobridge/internal/core/actor"
	"github.com/ecozmo/robobridge/internal/util"
	"github.com/ecozmo/robobridge/pkg/ecovacs"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testHarness struct {
	handler http.Handler
	client  *ecovacs.TestClient
	system  *actor.ActorSystem
	pid     *actor.PID
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	client := ecovacs.CreateTestClient(
		ecovacs.DeviceInfo{ID: "E0001", Name: "Living Room", Class: "yna5xi", Resource: "atom"},
		ecovacs.DeviceInfo{ID: "E0002", Name: "Upstairs", Class: "yna5xi", Resource: "atom"},
	)

	as := actor.NewActorSystem()
	cfg := util.LoadTestConfig()
	logger := zap.NewNop()

	props := actor.PropsFromProducer(func() actor.Actor {
		return coreactor.NewBridgeActor(cfg, func(es *eventstream.EventStream) *adactor.EcovacsActor {
			return adactor.NewEcovacsActor(func(country, continent string) ecovacs.Client {
				return client
			}, es, 5*time.Second, 10*time.Second, logger)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, "bridge")
	require.NoError(t, err)

	server := &Server{
		port:           0,
		rootContext:    as.Root,
		bridgeActor:    pid,
		metrics:        newServerMetrics(),
		initTimeout:    20 * time.Second,
		commandTimeout: 10 * time.Second,
	}

	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})

	return &testHarness{
		handler: server.RegisterRoutes(),
		client:  client,
		system:  as,
		pid:     pid,
	}
}

func (h *testHarness) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthInitializesSession(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.DevicesConnected)

	// idempotent
	rec = h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, 2, health.DevicesConnected)
}

func TestListDevices(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list DeviceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	for _, device := range list.Devices {
		assert.False(t, device.Online)
		assert.Nil(t, device.BatteryLevel)
	}
}

func TestDeviceStatus(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h.client.EmitReport(ecovacs.NewBatteryReport("E0001", 88))
	time.Sleep(500 * time.Millisecond)

	rec = h.do(http.MethodGet, "/devices/E0001/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status DeviceStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "E0001", status.DeviceId)
	assert.True(t, status.Online)
	require.NotNil(t, status.BatteryLevel)
	assert.Equal(t, 88, *status.BatteryLevel)

	rec = h.do(http.MethodGet, "/devices/unknown/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommandRoutes(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/devices/E0001/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cmd CommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmd))
	assert.True(t, cmd.Success)
	assert.Equal(t, "E0001", cmd.DeviceId)

	executed := h.client.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, "clean", executed[0].Command.Name)

	// unknown device still answers 200 with success=false
	rec = h.do(http.MethodPost, "/devices/ghost/dock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmd))
	assert.False(t, cmd.Success)
	assert.Equal(t, "ghost", cmd.DeviceId)
	assert.NotEmpty(t, cmd.Message)
}

func TestCommandBeforeHealthFails(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodPost, "/devices/E0001/locate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cmd CommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmd))
	assert.False(t, cmd.Success)
	assert.Empty(t, h.client.Executed())
}

func TestTestConfigSwapsRegion(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodPost, "/debug/test-config", `{"country":"DE","continent":"EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	rec = h.do(http.MethodGet, "/debug/auth", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state BridgeStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "ready", state.State)
	assert.Equal(t, "de", state.Country)
	assert.Equal(t, "eu", state.Continent)
	assert.Equal(t, 2, state.DeviceCount)
}

func TestTestConfigQueryParams(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodPost, "/debug/test-config?country=de&continent=eu", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	rec = h.do(http.MethodGet, "/debug/auth", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state BridgeStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "de", state.Country)
	assert.Equal(t, "eu", state.Continent)
}

func TestTestConfigRejectsBadRegion(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodPost, "/debug/test-config", `{"country":"usa","continent":"na"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthStateBeforeInitialize(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodGet, "/debug/auth", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state BridgeStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "uninitialized", state.State)
	assert.Equal(t, 0, state.DeviceCount)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
