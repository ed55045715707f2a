package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	adactor "github.com/ecozmo/robobridge/internal/adapter/actor"
	"github.com/ecozmo/robobridge/internal/config"
	"github.com/ecozmo/robobridge/internal/core/domain"
	. "github.com/ecozmo/robobridge/internal/util/actorutil"
	"github.com/ecozmo/robobridge/pkg/ecovacs"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

type EcovacsActorProvider func(*eventstream.EventStream) *adactor.EcovacsActor

// BridgeActor owns the session lifecycle and the device status registry.
// It is the single writer of all status records: push events, commands
// and reads all arrive here as messages, so no locks are needed.
//
// Session states: uninitialized -> initializing -> ready | failed.
// Initialization is deferred until the first request asks for it, and
// concurrent initialize requests join the in-flight attempt instead of
// spawning a second session.
type BridgeActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	eventStream     *eventstream.EventStream
	eventSub        *eventstream.Subscription
	ecovacsActor    *actor.PID
	ecovacsProvider EcovacsActorProvider
	scheduler       quartz.Scheduler

	country   string
	continent string
	registry  map[string]*domain.VacuumStatus

	pendingInit []*actor.PID
	lastErr     error
	logger      *zap.Logger
}

type statusRefreshTick struct {
}

func NewBridgeActor(config config.Config, ecovacsProvider EcovacsActorProvider, logger *zap.Logger) *BridgeActor {
	act := &BridgeActor{
		config:          config,
		behavior:        actor.NewBehavior(),
		stash:           &Stash{},
		eventStream:     &eventstream.EventStream{},
		ecovacsProvider: ecovacsProvider,
		country:         config.Ecovacs.Country,
		continent:       config.Ecovacs.Continent,
		registry:        make(map[string]*domain.VacuumStatus),
		logger:          ActorLogger(domain.ACTOR_ID_BRIDGE, logger),
	}
	act.behavior.Become(act.UninitializedReceive)
	return act
}

func (state *BridgeActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *BridgeActor) UninitializedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("bridge@uninitialized started")
		state.subscribeDeviceEvents(ctx)
		state.startRefreshScheduler(ctx)
	case domain.InitializeRequest:
		state.logger.Debug("bridge@uninitialized InitializeRequest")
		state.beginInitialize(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.SetRegionRequest:
		state.logger.Debug("bridge@uninitialized SetRegionRequest")
		state.setRegion(msg)
		state.beginInitialize(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.GetDevicesRequest:
		state.respondDevices(ctx)
	case domain.GetDeviceStatusRequest:
		state.respondDeviceStatus(ctx, msg)
	case domain.DeviceCommandRequest:
		// no session yet: same outcome as an unknown device
		state.logger.Warn("bridge@uninitialized command before initialization",
			zap.String("device", msg.DeviceId), zap.String("command", string(msg.Kind)))
		state.respondCommand(ctx, msg, false)
	case domain.BridgeStateRequest:
		state.respondBridgeState(ctx, domain.SessionUninitialized)
	case domain.DeviceEvent:
		state.logger.Warn("bridge@uninitialized dropping event for device",
			zap.String("device", msg.EventDeviceId()))
	case statusRefreshTick:
	case *actor.Stopping:
		state.shutdown()
	default:
		state.logger.Debug("bridge@uninitialized recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *BridgeActor) InitializingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.StartSessionResponse:
		state.logger.Debug("bridge@initializing StartSessionResponse",
			zap.Bool("failed", msg.HasResponseError()))
		state.finishInitialize(ctx, msg)
	case domain.InitializeRequest:
		// join the in-flight attempt, never start a second session
		state.logger.Debug("bridge@initializing InitializeRequest joined")
		if replyTo := ForRequest(msg).ReplyTo(ctx); replyTo != nil {
			state.pendingInit = append(state.pendingInit, replyTo)
		}
	case domain.DeviceCommandRequest:
		state.respondCommand(ctx, msg, false)
	case domain.GetDevicesRequest:
		state.respondDevices(ctx)
	case domain.GetDeviceStatusRequest:
		state.respondDeviceStatus(ctx, msg)
	case domain.BridgeStateRequest:
		state.respondBridgeState(ctx, domain.SessionInitializing)
	case statusRefreshTick:
	case *actor.Stopping:
		state.shutdown()
	default:
		// device events and region changes wait until the session settles
		state.logger.Debug("bridge@initializing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeActor) ReadyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.InitializeRequest:
		state.logger.Debug("bridge@ready InitializeRequest (already initialized)")
		ForRequest(msg).Respond(ctx, domain.InitializeResponse{DeviceCount: len(state.registry)})
	case domain.GetDevicesRequest:
		state.respondDevices(ctx)
	case domain.GetDeviceStatusRequest:
		state.respondDeviceStatus(ctx, msg)
	case domain.DeviceCommandRequest:
		state.forwardCommand(ctx, msg)
	case domain.DeviceEvent:
		state.applyDeviceEvent(msg)
	case domain.BridgeStateRequest:
		state.respondBridgeState(ctx, domain.SessionReady)
	case domain.SetRegionRequest:
		state.logger.Info("bridge@ready region change, forcing re-initialization",
			zap.String("country", msg.Country), zap.String("continent", msg.Continent))
		state.setRegion(msg)
		state.beginInitialize(ctx, ForRequest(msg).ReplyTo(ctx))
	case statusRefreshTick:
		state.logger.Debug("bridge@ready status refresh tick")
		ctx.Send(state.ecovacsActor, domain.RefreshStatusRequest{})
	case *actor.Terminated:
		if state.ecovacsActor != nil && msg.Who.Equal(state.ecovacsActor) {
			state.logger.Error("bridge@ready vendor session terminated")
			state.ecovacsActor = nil
			state.lastErr = errors.New("vendor session terminated")
			state.behavior.Become(state.FailedReceive)
		}
	case *actor.Stopping:
		state.shutdown()
	default:
		state.logger.Debug("bridge@ready recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *BridgeActor) FailedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.InitializeRequest:
		state.logger.Debug("bridge@failed InitializeRequest, retrying")
		state.beginInitialize(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.SetRegionRequest:
		state.setRegion(msg)
		state.beginInitialize(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.GetDevicesRequest:
		state.respondDevices(ctx)
	case domain.GetDeviceStatusRequest:
		state.respondDeviceStatus(ctx, msg)
	case domain.DeviceCommandRequest:
		state.respondCommand(ctx, msg, false)
	case domain.BridgeStateRequest:
		state.respondBridgeState(ctx, domain.SessionFailed)
	case domain.DeviceEvent:
		state.applyDeviceEvent(msg)
	case statusRefreshTick:
	case *actor.Stopping:
		state.shutdown()
	default:
		state.logger.Debug("bridge@failed recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// beginInitialize spawns the vendor adapter if needed and asks it for a
// new session. The requester is answered when the attempt settles.
func (state *BridgeActor) beginInitialize(ctx actor.Context, replyTo *actor.PID) {
	if state.ecovacsActor == nil {
		pid, err := state.startEcovacsActor(ctx)
		if err != nil {
			state.lastErr = err
			if replyTo != nil {
				ctx.Send(replyTo, domain.InitializeResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				})
			}
			state.behavior.Become(state.FailedReceive)
			return
		}
		state.ecovacsActor = pid
	}

	if replyTo != nil {
		state.pendingInit = append(state.pendingInit, replyTo)
	}

	timeout := time.Duration(state.config.InitTimeoutMillis)*time.Millisecond + 5*time.Second
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.ecovacsActor, domain.StartSessionRequest{
		Country:   state.country,
		Continent: state.continent,
	}, timeout), func(err error) any {
		return domain.StartSessionResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		}
	})
	state.behavior.Become(state.InitializingReceive)
}

func (state *BridgeActor) finishInitialize(ctx actor.Context, msg domain.StartSessionResponse) {
	if msg.HasResponseError() {
		err := msg.GetResponseError()
		state.logger.Error("bridge: initialization failed", zap.Error(err))
		state.lastErr = err
		state.respondPendingInit(ctx, domain.InitializeResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
		state.behavior.Become(state.FailedReceive)
		state.stash.UnstashAll(ctx)
		return
	}

	for _, info := range msg.Devices {
		state.ensureRecord(info)
	}
	state.lastErr = nil
	state.logger.Info("bridge: initialization complete", zap.Int("devices", len(msg.Devices)))
	state.respondPendingInit(ctx, domain.InitializeResponse{DeviceCount: len(state.registry)})
	state.behavior.Become(state.ReadyReceive)
	state.stash.UnstashAll(ctx)
}

// ensureRecord creates the status record for a discovered device:
// initially offline with no battery value. Re-discovery of a known
// device keeps its record.
func (state *BridgeActor) ensureRecord(info ecovacs.DeviceInfo) {
	if _, ok := state.registry[info.ID]; ok {
		return
	}
	state.registry[info.ID] = &domain.VacuumStatus{
		DeviceId: info.ID,
		Name:     info.Name,
		Online:   false,
	}
}

// applyDeviceEvent mutates exactly one record. Fresh pointers are
// assigned so snapshots handed out earlier stay immutable.
func (state *BridgeActor) applyDeviceEvent(event domain.DeviceEvent) {
	record, ok := state.registry[event.EventDeviceId()]
	if !ok {
		state.logger.Warn("bridge: event for unknown device",
			zap.String("device", event.EventDeviceId()))
		return
	}
	now := time.Now()
	switch e := event.(type) {
	case domain.BatteryEvent:
		level := e.Percent
		record.BatteryLevel = &level
		state.logger.Debug("bridge: battery event",
			zap.String("device", e.DeviceId), zap.Int("percent", e.Percent))
	case domain.CleanStateEvent:
		cleanState := e.State
		record.CleaningState = &cleanState
	case domain.DeviceErrorEvent:
		message := e.Message
		record.ErrorMessage = &message
	default:
		return
	}
	record.Online = true
	record.LastUpdated = &now
}

func (state *BridgeActor) forwardCommand(ctx actor.Context, msg domain.DeviceCommandRequest) {
	sender := ForRequest(msg).ReplyTo(ctx)
	if _, ok := state.registry[msg.DeviceId]; !ok {
		state.logger.Warn("bridge: command for unknown device",
			zap.String("device", msg.DeviceId), zap.String("command", string(msg.Kind)))
		state.sendCommandResponse(ctx, sender, msg, false)
		return
	}
	command, ok := commandForKind(msg.Kind)
	if !ok {
		state.logger.Warn("bridge: unsupported command", zap.String("command", string(msg.Kind)))
		state.sendCommandResponse(ctx, sender, msg, false)
		return
	}

	timeout := time.Duration(state.config.CommandTimeoutMillis)*time.Millisecond + 2*time.Second
	future := ctx.RequestFuture(state.ecovacsActor, domain.SendCommandRequest{
		DeviceId: msg.DeviceId,
		Command:  command,
	}, timeout)
	ctx.ReenterAfter(future, func(res any, err error) {
		success := false
		if err != nil {
			state.logger.Error("bridge: command forwarding failed",
				zap.String("device", msg.DeviceId), zap.String("command", string(msg.Kind)), zap.Error(err))
		} else if resp, ok := res.(domain.SendCommandResponse); ok && !resp.HasResponseError() {
			success = true
		} else if ok {
			state.logger.Error("bridge: command rejected",
				zap.String("device", msg.DeviceId), zap.String("command", string(msg.Kind)),
				zap.Error(resp.GetResponseError()))
		}
		state.sendCommandResponse(ctx, sender, msg, success)
	})
}

func (state *BridgeActor) respondCommand(ctx actor.Context, msg domain.DeviceCommandRequest, success bool) {
	state.sendCommandResponse(ctx, ForRequest(msg).ReplyTo(ctx), msg, success)
}

func (state *BridgeActor) sendCommandResponse(ctx actor.Context, sender *actor.PID,
	msg domain.DeviceCommandRequest, success bool) {
	if sender == nil {
		return
	}
	ctx.Send(sender, domain.DeviceCommandResponse{
		DeviceId: msg.DeviceId,
		Kind:     msg.Kind,
		Success:  success,
	})
}

func (state *BridgeActor) respondDevices(ctx actor.Context) {
	devices := make([]domain.VacuumStatus, 0, len(state.registry))
	for _, record := range state.registry {
		devices = append(devices, *record)
	}
	ctx.Respond(domain.GetDevicesResponse{Devices: devices})
}

func (state *BridgeActor) respondDeviceStatus(ctx actor.Context, msg domain.GetDeviceStatusRequest) {
	record, ok := state.registry[msg.DeviceId]
	if !ok {
		ForRequest(msg).Respond(ctx, domain.GetDeviceStatusResponse{Found: false})
		return
	}
	ForRequest(msg).Respond(ctx, domain.GetDeviceStatusResponse{Found: true, Status: *record})
}

func (state *BridgeActor) respondBridgeState(ctx actor.Context, session domain.SessionState) {
	resp := domain.BridgeStateResponse{
		State:       session,
		Country:     state.country,
		Continent:   state.continent,
		DeviceCount: len(state.registry),
	}
	if state.lastErr != nil {
		resp.LastError = state.lastErr.Error()
	}
	ctx.Respond(resp)
}

func (state *BridgeActor) respondPendingInit(ctx actor.Context, resp domain.InitializeResponse) {
	for _, pid := range state.pendingInit {
		ctx.Send(pid, resp)
	}
	state.pendingInit = nil
}

func (state *BridgeActor) setRegion(msg domain.SetRegionRequest) {
	state.country = msg.Country
	state.continent = msg.Continent
}

func (state *BridgeActor) startEcovacsActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.ecovacsProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_ECOVACS)
	if err != nil {
		return nil, err
	}

	return pid, nil
}

func (state *BridgeActor) subscribeDeviceEvents(ctx actor.Context) {
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.eventSub = state.eventStream.Subscribe(func(evt any) {
		if event, ok := evt.(domain.DeviceEvent); ok {
			root.Send(self, event)
		}
	})
}

func (state *BridgeActor) startRefreshScheduler(ctx actor.Context) {
	if state.config.StatusRefreshMillis == 0 {
		return
	}
	self := ctx.Self()
	root := ctx.ActorSystem().Root

	state.scheduler = quartz.NewStdScheduler()
	state.scheduler.Start(context.Background())

	refreshJob := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		root.Send(self, statusRefreshTick{})
		return true, nil
	})
	trigger := quartz.NewSimpleTrigger(time.Duration(state.config.StatusRefreshMillis) * time.Millisecond)
	err := state.scheduler.ScheduleJob(quartz.NewJobDetail(refreshJob, quartz.NewJobKey("status_refresh")), trigger)
	if err != nil {
		state.logger.Warn("bridge: could not schedule status refresh", zap.Error(err))
	}
}

func (state *BridgeActor) shutdown() {
	if state.scheduler != nil {
		state.scheduler.Stop()
		state.scheduler = nil
	}
	if state.eventSub != nil {
		state.eventStream.Unsubscribe(state.eventSub)
		state.eventSub = nil
	}
}

func commandForKind(kind domain.CommandKind) (ecovacs.Command, bool) {
	switch kind {
	case domain.CommandStartClean:
		return ecovacs.CleanStart(), true
	case domain.CommandStopClean:
		return ecovacs.CleanStop(), true
	case domain.CommandPauseClean:
		return ecovacs.CleanPause(), true
	case domain.CommandReturnToDock:
		return ecovacs.Charge(), true
	case domain.CommandLocate:
		return ecovacs.PlaySound(), true
	default:
		return ecovacs.Command{}, false
	}
}
