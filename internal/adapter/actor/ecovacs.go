package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/ecozmo/robobridge/internal/core/domain"
	"github.com/ecozmo/robobridge/internal/util/actorutil"
	"github.com/ecozmo/robobridge/pkg/ecovacs"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const keepAliveInterval = 30 * time.Minute

// ClientFactory builds a vendor client for a region selector. A new
// client is built per session so the region can change at runtime.
type ClientFactory func(country, continent string) ecovacs.Client

// EcovacsActor owns the vendor cloud session: it logs in, lists the
// account devices, holds their live handles and forwards commands.
// Push reports are relayed to the event stream as domain events.
type EcovacsActor struct {
	behavior       actor.Behavior
	stash          *actorutil.Stash
	scheduler      *scheduler.TimerScheduler
	factory        ClientFactory
	eventStream    *eventstream.EventStream
	commandTimeout time.Duration
	initTimeout    time.Duration
	logger         *zap.Logger

	client  ecovacs.Client
	devices map[string]ecovacs.Device
	cancels []func()
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
	// runs on the actor goroutine before the message is forwarded
	commit func()
}

// sessionHandles carries a fresh session's handles from the background
// task to the actor goroutine.
type sessionHandles struct {
	infos   []ecovacs.DeviceInfo
	devices map[string]ecovacs.Device
	cancels []func()
}

type keepAliveTick struct {
}

func NewEcovacsActor(factory ClientFactory, eventStream *eventstream.EventStream,
	commandTimeout, initTimeout time.Duration, logger *zap.Logger) *EcovacsActor {
	act := &EcovacsActor{
		factory:        factory,
		eventStream:    eventStream,
		commandTimeout: commandTimeout,
		initTimeout:    initTimeout,
		behavior:       actor.NewBehavior(),
		stash:          &actorutil.Stash{},
		devices:        make(map[string]ecovacs.Device),
		logger:         actorutil.ActorLogger(domain.ACTOR_ID_ECOVACS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *EcovacsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *EcovacsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("ecovacs@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.teardown()
	default:
		state.logger.Debug("ecovacs@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EcovacsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("ecovacs@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ECOVACS,
			Healthy: true,
			State:   state.sessionState(),
		})
	case domain.StartSessionRequest:
		state.logger.Debug("ecovacs@default StartSessionRequest",
			zap.String("country", msg.Country), zap.String("continent", msg.Continent))
		state.startSession(ctx, msg)
		state.behavior.BecomeStacked(state.WaitingVendor)
	case domain.SendCommandRequest:
		state.logger.Debug("ecovacs@default SendCommandRequest",
			zap.String("device", msg.DeviceId), zap.String("command", msg.Command.Name))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		device, ok := state.devices[msg.DeviceId]
		if !ok {
			ctx.Send(sender, domain.SendCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("no live handle for device %s", msg.DeviceId),
				},
				DeviceId: msg.DeviceId,
			})
			return
		}
		state.sendCommand(ctx, device, msg, sender)
		state.behavior.BecomeStacked(state.WaitingVendor)
	case domain.RefreshStatusRequest:
		state.logger.Debug("ecovacs@default RefreshStatusRequest")
		state.refreshStatus(ctx)
	case keepAliveTick:
		state.logger.Debug("ecovacs@default keepAliveTick")
		state.keepAlive(ctx)
	case *actor.Stopping:
		state.teardown()
	case *actor.Restarting:
		state.teardown()
	default:
		state.logger.Debug("ecovacs@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *EcovacsActor) WaitingVendor(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("ecovacs@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.commit != nil {
			msg.commit()
		}
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.teardown()
	case *actor.Restarting:
		state.teardown()
	default:
		state.logger.Debug("ecovacs@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// startSession replaces any previous session: authenticate, list the
// account devices, open handles and subscribe to push reports.
func (state *EcovacsActor) startSession(ctx actor.Context, msg domain.StartSessionRequest) {
	sender := actorutil.ForRequest(msg).ReplyTo(ctx)

	state.teardown()
	state.client = state.factory(msg.Country, msg.Continent)
	client := state.client

	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*sessionHandles, error) {
		bgCtx := context.Background()
		if err := client.Authenticate(bgCtx); err != nil {
			return nil, err
		}
		infos, err := client.ListDevices(bgCtx)
		if err != nil {
			return nil, err
		}
		// collected locally: after a timeout this task may still be
		// running while the actor handles the next request
		handles := &sessionHandles{
			infos:   infos,
			devices: make(map[string]ecovacs.Device),
		}
		for _, info := range infos {
			device, err := client.OpenDevice(bgCtx, info)
			if err != nil {
				state.logger.Warn("ecovacs: could not open device handle",
					zap.String("device", info.ID), zap.Error(err))
				continue
			}
			cancel, err := device.Subscribe(state.publishReport)
			if err != nil {
				state.logger.Warn("ecovacs: could not subscribe to device reports",
					zap.String("device", info.ID), zap.Error(err))
			} else {
				handles.cancels = append(handles.cancels, cancel)
			}
			handles.devices[info.ID] = device
		}
		return handles, nil
	}), func(handles *sessionHandles) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: domain.StartSessionResponse{Devices: handles.infos},
			replyTo: sender,
			commit: func() {
				state.devices = handles.devices
				state.cancels = handles.cancels
			},
		}
	}).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: domain.StartSessionResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			},
			replyTo: sender,
		}
	}).WithTimeout(state.initTimeout).PipeTo(ctx.Self())

	state.scheduler.RequestOnce(keepAliveInterval, ctx.Self(), keepAliveTick{})
}

func (state *EcovacsActor) sendCommand(ctx actor.Context, device ecovacs.Device,
	msg domain.SendCommandRequest, sender *actor.PID) {
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.SendCommandResponse, error) {
		if err := device.Execute(context.Background(), msg.Command); err != nil {
			return nil, err
		}
		return &domain.SendCommandResponse{DeviceId: msg.DeviceId}, nil
	}), mapTaskResult[domain.SendCommandResponse](sender)).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: domain.SendCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
				DeviceId: msg.DeviceId,
			},
			replyTo: sender,
		}
	}).WithTimeout(state.commandTimeout).PipeTo(ctx.Self())
}

// refreshStatus asks every live device to re-publish battery and clean
// state. Answers arrive asynchronously on the report channel.
func (state *EcovacsActor) refreshStatus(ctx actor.Context) {
	for id, device := range state.devices {
		id, device := id, device
		actorutil.NewBackgroundTaskErr(ctx, func() error {
			return device.QueryStatus(context.Background())
		}).WithTimeout(state.commandTimeout).OnError(func(err error) {
			state.logger.Debug("ecovacs: status refresh failed",
				zap.String("device", id), zap.Error(err))
		}).Run()
	}
}

func (state *EcovacsActor) keepAlive(ctx actor.Context) {
	client := state.client
	if client == nil {
		return
	}
	actorutil.NewBackgroundTaskErr(ctx, func() error {
		return client.Authenticate(context.Background())
	}).WithTimeout(state.initTimeout).OnError(func(err error) {
		state.logger.Warn("ecovacs: session keep-alive failed", zap.Error(err))
	}).Run()
	state.scheduler.RequestOnce(keepAliveInterval, ctx.Self(), keepAliveTick{})
}

func (state *EcovacsActor) publishReport(report ecovacs.Report) {
	if event := reportToEvent(report); event != nil {
		state.eventStream.Publish(event)
	}
}

func (state *EcovacsActor) sessionState() string {
	if state.client == nil {
		return "idle"
	}
	return fmt.Sprintf("connected (%d devices)", len(state.devices))
}

// teardown releases subscriptions, handles and the session. Best
// effort, errors are swallowed.
func (state *EcovacsActor) teardown() {
	for _, cancel := range state.cancels {
		cancel()
	}
	state.cancels = nil
	for id, device := range state.devices {
		if err := device.Disconnect(); err != nil {
			state.logger.Debug("ecovacs: device disconnect failed",
				zap.String("device", id), zap.Error(err))
		}
	}
	state.devices = make(map[string]ecovacs.Device)
	if state.client != nil {
		if err := state.client.Close(); err != nil {
			state.logger.Debug("ecovacs: session close failed", zap.Error(err))
		}
		state.client = nil
	}
}

// reportToEvent maps a vendor push report to a domain device event.
func reportToEvent(report ecovacs.Report) domain.DeviceEvent {
	switch r := report.(type) {
	case ecovacs.BatteryReport:
		return domain.BatteryEvent{
			DeviceEventMixIn: domain.DeviceEventMixIn{DeviceId: r.ReportDeviceID()},
			Percent:          r.Percent,
		}
	case ecovacs.CleanReport:
		return domain.CleanStateEvent{
			DeviceEventMixIn: domain.DeviceEventMixIn{DeviceId: r.ReportDeviceID()},
			State:            r.State,
		}
	case ecovacs.ErrorReport:
		return domain.DeviceErrorEvent{
			DeviceEventMixIn: domain.DeviceEventMixIn{DeviceId: r.ReportDeviceID()},
			Message:          r.Message,
		}
	default:
		return nil
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
