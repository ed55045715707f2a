package ecovacs

import (
	"context"
	"sync"
	"time"
)

// TestClient is an in-memory Client for tests. Reports are injected
// with EmitReport and forwarded-command history can be inspected.
type TestClient struct {
	AuthErr    error
	ListErr    error
	CommandErr error
	// AuthDelay stalls Authenticate to simulate a slow portal login.
	AuthDelay time.Duration

	mu            sync.Mutex
	devices       []DeviceInfo
	authenticated bool
	executed      []ExecutedCommand
	handlers      map[string]map[int]ReportHandler
	nextHandlerID int
}

type ExecutedCommand struct {
	DeviceID string
	Command  Command
}

func CreateTestClient(devices ...DeviceInfo) *TestClient {
	return &TestClient{
		devices:  devices,
		handlers: make(map[string]map[int]ReportHandler),
	}
}

func (c *TestClient) Authenticate(_ context.Context) error {
	if c.AuthDelay > 0 {
		time.Sleep(c.AuthDelay)
	}
	if c.AuthErr != nil {
		return c.AuthErr
	}
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

func (c *TestClient) ListDevices(_ context.Context) ([]DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return nil, ErrNotAuthenticated
	}
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make([]DeviceInfo, len(c.devices))
	copy(out, c.devices)
	return out, nil
}

func (c *TestClient) OpenDevice(_ context.Context, info DeviceInfo) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return nil, ErrNotAuthenticated
	}
	return &testDevice{client: c, info: info}, nil
}

func (c *TestClient) Close() error {
	c.mu.Lock()
	c.authenticated = false
	c.handlers = make(map[string]map[int]ReportHandler)
	c.mu.Unlock()
	return nil
}

// EmitReport delivers a report to all handlers subscribed to its device.
func (c *TestClient) EmitReport(report Report) {
	c.mu.Lock()
	handlers := c.handlers[report.ReportDeviceID()]
	list := make([]ReportHandler, 0, len(handlers))
	for _, h := range handlers {
		list = append(list, h)
	}
	c.mu.Unlock()
	for _, h := range list {
		h(report)
	}
}

// Executed returns the commands forwarded so far.
func (c *TestClient) Executed() []ExecutedCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExecutedCommand, len(c.executed))
	copy(out, c.executed)
	return out
}

type testDevice struct {
	client *TestClient
	info   DeviceInfo
}

func (d *testDevice) Info() DeviceInfo {
	return d.info
}

func (d *testDevice) Execute(_ context.Context, cmd Command) error {
	d.client.mu.Lock()
	defer d.client.mu.Unlock()
	if d.client.CommandErr != nil {
		return d.client.CommandErr
	}
	d.client.executed = append(d.client.executed, ExecutedCommand{DeviceID: d.info.ID, Command: cmd})
	return nil
}

func (d *testDevice) Subscribe(handler ReportHandler) (func(), error) {
	d.client.mu.Lock()
	if d.client.handlers[d.info.ID] == nil {
		d.client.handlers[d.info.ID] = make(map[int]ReportHandler)
	}
	id := d.client.nextHandlerID
	d.client.nextHandlerID++
	d.client.handlers[d.info.ID][id] = handler
	d.client.mu.Unlock()

	return func() {
		d.client.mu.Lock()
		delete(d.client.handlers[d.info.ID], id)
		d.client.mu.Unlock()
	}, nil
}

func (d *testDevice) QueryStatus(_ context.Context) error {
	return nil
}

func (d *testDevice) Disconnect() error {
	return nil
}
