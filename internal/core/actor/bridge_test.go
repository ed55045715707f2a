package actor

import (
	"errors"
	"testing"
	"time"

	adactor "github.com/ecozmo/robobridge/internal/adapter/actor"
	"github.com/ecozmo/robobridge/internal/core/domain"
	"github.com/ecozmo/robobridge/internal/util"
	"github.com/ecozmo/robobridge/pkg/ecovacs"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDevices() []ecovacs.DeviceInfo {
	return []ecovacs.DeviceInfo{
		{ID: "E0001", Name: "Living Room", Class: "yna5xi", Resource: "atom"},
		{ID: "E0002", Name: "Upstairs", Class: "yna5xi", Resource: "atom"},
	}
}

func spawnTestBridge(t *testing.T, client *ecovacs.TestClient) (*actor.ActorSystem, *actor.PID) {
	t.Helper()

	as := actor.NewActorSystem()
	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewBridgeActor(cfg, func(es *eventstream.EventStream) *adactor.EcovacsActor {
			return adactor.NewEcovacsActor(func(country, continent string) ecovacs.Client {
				return client
			}, es, 5*time.Second, 10*time.Second, logger)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, "bridge")
	require.NoError(t, err)
	return as, pid
}

func TestBridgeActorLazyInitialize(t *testing.T) {
	client := ecovacs.CreateTestClient(testDevices()...)
	as, pid := spawnTestBridge(t, client)
	defer as.Shutdown()
	context := as.Root

	// nothing happens until someone asks
	res, err := context.RequestFuture(pid, domain.BridgeStateRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	stateResp, ok := res.(domain.BridgeStateResponse)
	require.True(t, ok)
	assert.Equal(t, domain.SessionUninitialized, stateResp.State)
	assert.Equal(t, 0, stateResp.DeviceCount)

	res, err = context.RequestFuture(pid, domain.InitializeRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	initResp, ok := res.(domain.InitializeResponse)
	require.True(t, ok)
	assert.False(t, initResp.HasResponseError())
	assert.Equal(t, 2, initResp.DeviceCount)

	// a second initialize is a no-op answered from the registry
	res, err = context.RequestFuture(pid, domain.InitializeRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	initResp, ok = res.(domain.InitializeResponse)
	require.True(t, ok)
	assert.Equal(t, 2, initResp.DeviceCount)

	res, err = context.RequestFuture(pid, domain.BridgeStateRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	stateResp, ok = res.(domain.BridgeStateResponse)
	require.True(t, ok)
	assert.Equal(t, domain.SessionReady, stateResp.State)

	context.Stop(pid)
}

func TestBridgeActorDevicesStartOffline(t *testing.T) {
	client := ecovacs.CreateTestClient(testDevices()...)
	as, pid := spawnTestBridge(t, client)
	defer as.Shutdown()
	context := as.Root

	_, err := context.RequestFuture(pid, domain.InitializeRequest{}, 10*time.Second).Result()
	require.NoError(t, err)

	res, err := context.RequestFuture(pid, domain.GetDevicesRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	devicesResp, ok := res.(domain.GetDevicesResponse)
	require.True(t, ok)
	require.Len(t, devicesResp.Devices, 2)
	for _, device := range devicesResp.Devices {
		assert.False(t, device.Online, "devices start offline until an event arrives")
		assert.Nil(t, device.BatteryLevel)
		assert.Nil(t, device.CleaningState)
		assert.Nil(t, device.LastUpdated)
	}

	context.Stop(pid)
}

func TestBridgeActorBatteryEventUpdatesOneDevice(t *testing.T) {
	client := ecovacs.CreateTestClient(testDevices()...)
	as, pid := spawnTestBridge(t, client)
	defer as.Shutdown()
	context := as.Root

	_, err := context.RequestFuture(pid, domain.InitializeRequest{}, 10*time.Second).Result()
	require.NoError(t, err)

	client.EmitReport(ecovacs.NewBatteryReport("E0001", 77))
	time.Sleep(500 * time.Millisecond)

	res, err := context.RequestFuture(pid, domain.GetDeviceStatusRequest{DeviceId: "E0001"}, 5*time.Second).Result()
	require.NoError(t, err)
	statusResp, ok := res.(domain.GetDeviceStatusResponse)
	require.True(t, ok)
	require.True(t, statusResp.Found)
	assert.True(t, statusResp.Status.Online)
	require.NotNil(t, statusResp.Status.BatteryLevel)
	assert.Equal(t, 77, *statusResp.Status.BatteryLevel)
	assert.NotNil(t, statusResp.Status.LastUpdated)

	// the sibling device is untouched
	res, err = context.RequestFuture(pid, domain.GetDeviceStatusRequest{DeviceId: "E0002"}, 5*time.Second).Result()
	require.NoError(t, err)
	statusResp, ok = res.(domain.GetDeviceStatusResponse)
	require.True(t, ok)
	require.True(t, statusResp.Found)
	assert.False(t, statusResp.Status.Online)
	assert.Nil(t, statusResp.Status.BatteryLevel)

	context.Stop(pid)
}

func TestBridgeActorCommandDispatch(t *testing.T) {
	client := ecovacs.CreateTestClient(testDevices()...)
	as, pid := spawnTestBridge(t, client)
	defer as.Shutdown()
	context := as.Root

	_, err := context.RequestFuture(pid, domain.InitializeRequest{}, 10*time.Second).Result()
	require.NoError(t, err)

	res, err := context.RequestFuture(pid, domain.DeviceCommandRequest{
		DeviceId: "E0001",
		Kind:     domain.CommandStartClean,
	}, 10*time.Second).Result()
	require.NoError(t, err)
	cmdResp, ok := res.(domain.DeviceCommandResponse)
	require.True(t, ok)
	assert.True(t, cmdResp.Success)
	assert.Equal(t, "E0001", cmdResp.DeviceId)

	executed := client.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, "E0001", executed[0].DeviceID)
	assert.Equal(t, "clean", executed[0].Command.Name)

	// unknown device is a quiet failure, never an error
	res, err = context.RequestFuture(pid, domain.DeviceCommandRequest{
		DeviceId: "nope",
		Kind:     domain.CommandStartClean,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	cmdResp, ok = res.(domain.DeviceCommandResponse)
	require.True(t, ok)
	assert.False(t, cmdResp.Success)

	context.Stop(pid)
}

func TestBridgeActorCommandFailure(t *testing.T) {
	client := ecovacs.CreateTestClient(testDevices()...)
	client.CommandErr = errors.New("robot offline")
	as, pid := spawnTestBridge(t, client)
	defer as.Shutdown()
	context := as.Root

	_, err := context.RequestFuture(pid, domain.InitializeRequest{}, 10*time.Second).Result()
	require.NoError(t, err)

	res, err := context.RequestFuture(pid, domain.DeviceCommandRequest{
		DeviceId: "E0002",
		Kind:     domain.CommandReturnToDock,
	}, 10*time.Second).Result()
	require.NoError(t, err)
	cmdResp, ok := res.(domain.DeviceCommandResponse)
	require.True(t, ok)
	assert.False(t, cmdResp.Success)

	context.Stop(pid)
}

func TestBridgeActorCommandBeforeInitialize(t *testing.T) {
	client := ecovacs.CreateTestClient(testDevices()...)
	as, pid := spawnTestBridge(t, client)
	defer as.Shutdown()
	context := as.Root

	res, err := context.RequestFuture(pid, domain.DeviceCommandRequest{
		DeviceId: "E0001",
		Kind:     domain.CommandLocate,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	cmdResp, ok := res.(domain.DeviceCommandResponse)
	require.True(t, ok)
	assert.False(t, cmdResp.Success, "commands do not trigger initialization")

	assert.Empty(t, client.Executed())

	context.Stop(pid)
}

func TestBridgeActorInitializeFailure(t *testing.T) {
	client := ecovacs.CreateTestClient(testDevices()...)
	client.AuthErr = errors.New("auth failed: 1005")
	as, pid := spawnTestBridge(t, client)
	defer as.Shutdown()
	context := as.Root

	res, err := context.RequestFuture(pid, domain.InitializeRequest{}, 15*time.Second).Result()
	require.NoError(t, err)
	initResp, ok := res.(domain.InitializeResponse)
	require.True(t, ok)
	assert.True(t, initResp.HasResponseError())

	res, err = context.RequestFuture(pid, domain.BridgeStateRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	stateResp, ok := res.(domain.BridgeStateResponse)
	require.True(t, ok)
	assert.Equal(t, domain.SessionFailed, stateResp.State)
	assert.Contains(t, stateResp.LastError, "auth failed")

	// a later initialize retries and recovers
	client.AuthErr = nil
	res, err = context.RequestFuture(pid, domain.InitializeRequest{}, 15*time.Second).Result()
	require.NoError(t, err)
	initResp, ok = res.(domain.InitializeResponse)
	require.True(t, ok)
	assert.False(t, initResp.HasResponseError())
	assert.Equal(t, 2, initResp.DeviceCount)

	context.Stop(pid)
}

func TestBridgeActorConcurrentInitializeJoins(t *testing.T) {
	factoryCalls := 0
	client := ecovacs.CreateTestClient(testDevices()...)
	client.AuthDelay = 300 * time.Millisecond

	as := actor.NewActorSystem()
	defer as.Shutdown()
	cfg := util.LoadTestConfig()
	logger := zap.NewNop()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewBridgeActor(cfg, func(es *eventstream.EventStream) *adactor.EcovacsActor {
			return adactor.NewEcovacsActor(func(country, continent string) ecovacs.Client {
				factoryCalls++
				return client
			}, es, 5*time.Second, 10*time.Second, logger)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, "bridge")
	require.NoError(t, err)
	context := as.Root

	first := context.RequestFuture(pid, domain.InitializeRequest{}, 15*time.Second)
	time.Sleep(50 * time.Millisecond)
	// arrives while the login is still in flight
	second := context.RequestFuture(pid, domain.InitializeRequest{}, 15*time.Second)

	for _, future := range []*actor.Future{first, second} {
		res, err := future.Result()
		require.NoError(t, err)
		initResp, ok := res.(domain.InitializeResponse)
		require.True(t, ok)
		assert.False(t, initResp.HasResponseError())
		assert.Equal(t, 2, initResp.DeviceCount)
	}

	// both callers share the one session
	assert.Equal(t, 1, factoryCalls)

	context.Stop(pid)
}

func TestBridgeActorRegionChange(t *testing.T) {
	regions := make([]string, 0, 2)
	client := ecovacs.CreateTestClient(testDevices()...)

	as := actor.NewActorSystem()
	defer as.Shutdown()
	cfg := util.LoadTestConfig()
	logger := zap.NewNop()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewBridgeActor(cfg, func(es *eventstream.EventStream) *adactor.EcovacsActor {
			return adactor.NewEcovacsActor(func(country, continent string) ecovacs.Client {
				regions = append(regions, country+"/"+continent)
				return client
			}, es, 5*time.Second, 10*time.Second, logger)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, "bridge")
	require.NoError(t, err)
	context := as.Root

	_, err = context.RequestFuture(pid, domain.InitializeRequest{}, 10*time.Second).Result()
	require.NoError(t, err)

	res, err := context.RequestFuture(pid, domain.SetRegionRequest{
		Country:   "de",
		Continent: "eu",
	}, 10*time.Second).Result()
	require.NoError(t, err)
	initResp, ok := res.(domain.InitializeResponse)
	require.True(t, ok)
	assert.False(t, initResp.HasResponseError())

	require.Len(t, regions, 2)
	assert.Equal(t, "us/na", regions[0])
	assert.Equal(t, "de/eu", regions[1])

	context.Stop(pid)
}
