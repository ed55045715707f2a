package ecovacs

import (
	"context"
	"errors"
)

// portalDevice is the live handle for one unit on a PortalClient session.
type portalDevice struct {
	client *PortalClient
	info   DeviceInfo
}

func (d *portalDevice) Info() DeviceInfo {
	return d.info
}

func (d *portalDevice) Execute(ctx context.Context, cmd Command) error {
	return d.client.sendCommand(ctx, d.info, cmd)
}

func (d *portalDevice) Subscribe(handler ReportHandler) (func(), error) {
	push, err := d.client.pushTransport()
	if err != nil {
		return nil, err
	}
	return push.subscribe(d.info, handler)
}

func (d *portalDevice) QueryStatus(ctx context.Context) error {
	// answers arrive asynchronously on the report channel
	return errors.Join(
		d.client.sendCommand(ctx, d.info, GetBatteryInfo()),
		d.client.sendCommand(ctx, d.info, GetCleanInfo()),
	)
}

func (d *portalDevice) Disconnect() error {
	// command channel is stateless; subscriptions are released by their
	// cancel functions or by PortalClient.Close
	return nil
}
