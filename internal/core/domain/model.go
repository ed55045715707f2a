package domain

import (
	"time"

	"github.com/ecozmo/robobridge/pkg/ecovacs"
)

// SessionState is the bridge session lifecycle. Transitions are owned by
// the bridge actor, so concurrent initialize requests cannot race.
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionInitializing  SessionState = "initializing"
	SessionReady         SessionState = "ready"
	SessionFailed        SessionState = "failed"
)

// CommandKind is one of the imperative vacuum commands.
type CommandKind string

const (
	CommandStartClean   CommandKind = "start"
	CommandStopClean    CommandKind = "stop"
	CommandPauseClean   CommandKind = "pause"
	CommandReturnToDock CommandKind = "dock"
	CommandLocate       CommandKind = "locate"
)

// VacuumStatus is the locally cached view of one device. Records are
// created at discovery and mutated in place by the bridge actor only.
type VacuumStatus struct {
	DeviceId      string
	Name          string
	Online        bool
	BatteryLevel  *int
	CleaningState *string
	ErrorMessage  *string
	LastUpdated   *time.Time
}

// Bridge actor requests

type InitializeRequest struct {
	ActorRequestMixIn
}

type InitializeResponse struct {
	ActorResponseMixIn
	DeviceCount int
}

type GetDevicesRequest struct {
	ActorRequestMixIn
}

type GetDevicesResponse struct {
	ActorResponseMixIn
	Devices []VacuumStatus
}

type GetDeviceStatusRequest struct {
	ActorRequestMixIn
	DeviceId string
}

type GetDeviceStatusResponse struct {
	ActorResponseMixIn
	Found  bool
	Status VacuumStatus
}

type DeviceCommandRequest struct {
	ActorRequestMixIn
	DeviceId string
	Kind     CommandKind
}

type DeviceCommandResponse struct {
	ActorResponseMixIn
	DeviceId string
	Kind     CommandKind
	Success  bool
}

// SetRegionRequest swaps the region selector and forces a new session.
// Debug/troubleshooting surface, answered with an InitializeResponse.
type SetRegionRequest struct {
	ActorRequestMixIn
	Country   string
	Continent string
}

type BridgeStateRequest struct {
	ActorRequestMixIn
}

type BridgeStateResponse struct {
	ActorResponseMixIn
	State       SessionState
	Country     string
	Continent   string
	DeviceCount int
	LastError   string
}

// Vendor adapter requests

type StartSessionRequest struct {
	ActorRequestMixIn
	Country   string
	Continent string
}

type StartSessionResponse struct {
	ActorResponseMixIn
	Devices []ecovacs.DeviceInfo
}

type SendCommandRequest struct {
	ActorRequestMixIn
	DeviceId string
	Command  ecovacs.Command
}

type SendCommandResponse struct {
	ActorResponseMixIn
	DeviceId string
}

// RefreshStatusRequest asks the adapter to make every device re-publish
// battery and clean state. Fire and forget.
type RefreshStatusRequest struct {
	ActorRequestMixIn
}

// Device events relayed from the vendor push channel

type DeviceEvent interface {
	EventDeviceId() string
}

type DeviceEventMixIn struct {
	DeviceId string
}

func (e DeviceEventMixIn) EventDeviceId() string {
	return e.DeviceId
}

type BatteryEvent struct {
	DeviceEventMixIn
	Percent int
}

type CleanStateEvent struct {
	DeviceEventMixIn
	State string
}

type DeviceErrorEvent struct {
	DeviceEventMixIn
	Message string
}
