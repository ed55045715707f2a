package ecovacs

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	reportBattery   = "onBattery"
	reportCleanInfo = "onCleanInfo"
	reportError     = "onError"
)

// pushClient is the shared MQTT attribute-report transport. Devices
// publish reports on iot/atr/{name}/{did}/{class}/{resource}/j.
type pushClient struct {
	client mqtt.Client

	mu     sync.Mutex
	subs   map[string]map[int]ReportHandler
	nextID int
}

type pushConfig struct {
	continent string
	userID    string
	token     string
	resource  string
}

func newPushClient(cfg pushConfig) (*pushClient, error) {
	pc := &pushClient{subs: make(map[string]map[int]ReportHandler)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("ssl://mq-%s.ecouser.net:8883", cfg.continent))
	opts.SetTLSConfig(&tls.Config{})
	opts.SetClientID(fmt.Sprintf("%s@%s/%s", cfg.userID, portalRealm, cfg.resource))
	opts.SetUsername(fmt.Sprintf("%s@%s", cfg.userID, portalRealm))
	opts.SetPassword(cfg.token)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetDefaultPublishHandler(pc.dispatch)
	opts.OnConnect = func(_ mqtt.Client) {
		pc.resubscribeAll()
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.client = client
	return pc, nil
}

// subscribe registers a handler for all reports from one device.
func (c *pushClient) subscribe(info DeviceInfo, handler ReportHandler) (func(), error) {
	topic := reportTopicFilter(info)

	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]ReportHandler)
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = handler
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if token := c.client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
			return nil, token.Error()
		}
	}

	return func() {
		c.mu.Lock()
		handlers := c.subs[topic]
		if handlers == nil {
			c.mu.Unlock()
			return
		}
		delete(handlers, id)
		shouldUnsub := len(handlers) == 0
		if shouldUnsub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if shouldUnsub {
			_ = c.client.Unsubscribe(topic).Wait()
		}
	}, nil
}

func (c *pushClient) dispatch(_ mqtt.Client, msg mqtt.Message) {
	report := parseReport(msg.Topic(), msg.Payload())
	if report == nil {
		return
	}
	filter := filterForTopic(msg.Topic())

	c.mu.Lock()
	handlers := c.subs[filter]
	list := make([]ReportHandler, 0, len(handlers))
	for _, h := range handlers {
		list = append(list, h)
	}
	c.mu.Unlock()

	for _, h := range list {
		h(report)
	}
}

func (c *pushClient) resubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		c.client.Subscribe(topic, 0, nil)
	}
}

func (c *pushClient) disconnect() {
	if c.client != nil {
		c.client.Disconnect(500)
	}
}

func reportTopicFilter(info DeviceInfo) string {
	return fmt.Sprintf("iot/atr/+/%s/%s/%s/+", info.ID, info.Class, info.Resource)
}

// filterForTopic maps a concrete report topic back to the subscription
// filter it matched, so handlers can be looked up by device.
func filterForTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 7 {
		return ""
	}
	return fmt.Sprintf("iot/atr/+/%s/%s/%s/+", parts[3], parts[4], parts[5])
}

type reportEnvelope struct {
	Body struct {
		Data json.RawMessage `json:"data"`
	} `json:"body"`
}

// parseReport decodes one attribute report. Unknown report names and
// malformed payloads yield nil.
func parseReport(topic string, payload []byte) Report {
	parts := strings.Split(topic, "/")
	if len(parts) != 7 || parts[0] != "iot" || parts[1] != "atr" {
		return nil
	}
	name := parts[2]
	deviceID := parts[3]

	var envelope reportEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil
	}

	switch name {
	case reportBattery:
		var data struct {
			Value int `json:"value"`
		}
		if err := json.Unmarshal(envelope.Body.Data, &data); err != nil {
			return nil
		}
		return NewBatteryReport(deviceID, data.Value)
	case reportCleanInfo:
		var data struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(envelope.Body.Data, &data); err != nil {
			return nil
		}
		return NewCleanReport(deviceID, data.State)
	case reportError:
		var data struct {
			Code []int  `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Body.Data, &data); err != nil {
			return nil
		}
		code := 0
		if len(data.Code) > 0 {
			code = data.Code[0]
		}
		msg := data.Msg
		if msg == "" {
			msg = fmt.Sprintf("device error %d", code)
		}
		return NewErrorReport(deviceID, code, msg)
	default:
		return nil
	}
}
