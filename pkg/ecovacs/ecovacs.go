// Package ecovacs implements the subset of the Ecovacs cloud surface a
// bridge needs: portal authentication, account device listing, the IoT
// command channel and the MQTT attribute-report push transport.
package ecovacs

import (
	"context"
)

// DeviceInfo describes one registered unit as returned by the portal
// device listing call.
type DeviceInfo struct {
	ID       string
	Name     string
	Class    string
	Resource string
	Company  string
	Model    string
}

// Command is one imperative robot command in the portal JSON envelope.
type Command struct {
	Name    string
	Payload any
}

// Report is a push event received from a device over the attribute
// report channel.
type Report interface {
	ReportDeviceID() string
}

type reportMixIn struct {
	DeviceID string
}

func (r reportMixIn) ReportDeviceID() string {
	return r.DeviceID
}

// BatteryReport carries the battery percentage pushed by a device.
type BatteryReport struct {
	reportMixIn
	Percent int
}

func NewBatteryReport(deviceID string, percent int) BatteryReport {
	return BatteryReport{reportMixIn: reportMixIn{DeviceID: deviceID}, Percent: percent}
}

// CleanReport carries the cleaning state label pushed by a device.
type CleanReport struct {
	reportMixIn
	State string
}

func NewCleanReport(deviceID, state string) CleanReport {
	return CleanReport{reportMixIn: reportMixIn{DeviceID: deviceID}, State: state}
}

// ErrorReport carries a device-side error notification.
type ErrorReport struct {
	reportMixIn
	Code    int
	Message string
}

func NewErrorReport(deviceID string, code int, message string) ErrorReport {
	return ErrorReport{reportMixIn: reportMixIn{DeviceID: deviceID}, Code: code, Message: message}
}

// ReportHandler receives push reports for a subscribed device.
type ReportHandler func(Report)

// Client is an authenticated cloud session for one account.
type Client interface {
	// Authenticate establishes (or refreshes) the portal session.
	Authenticate(ctx context.Context) error
	// ListDevices returns all devices registered on the account.
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
	// OpenDevice returns a live handle for one listed device.
	OpenDevice(ctx context.Context, info DeviceInfo) (Device, error)
	// Close releases the session and the push transport. Best effort.
	Close() error
}

// Device is a live handle used to command one physical unit.
type Device interface {
	Info() DeviceInfo
	// Execute forwards one command over the IoT control channel.
	Execute(ctx context.Context, cmd Command) error
	// Subscribe registers a handler for push reports from this device.
	// The returned function cancels the subscription.
	Subscribe(handler ReportHandler) (func(), error)
	// QueryStatus asks the device to re-publish battery and clean state.
	QueryStatus(ctx context.Context) error
	Disconnect() error
}
