package ecovacs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testDeviceInfo() DeviceInfo {
	return DeviceInfo{
		ID:       "E0001234567890",
		Name:     "Living Room",
		Class:    "yna5xi",
		Resource: "atom",
		Company:  "eco-ng",
	}
}

func TestReportTopicFilter(t *testing.T) {

	assert := assert.New(t)

	filter := reportTopicFilter(testDeviceInfo())
	assert.Equal("iot/atr/+/E0001234567890/yna5xi/atom/+", filter)
}

func TestFilterForTopic(t *testing.T) {

	assert := assert.New(t)

	topic := "iot/atr/onBattery/E0001234567890/yna5xi/atom/j"
	assert.Equal("iot/atr/+/E0001234567890/yna5xi/atom/+", filterForTopic(topic))

	assert.Equal("", filterForTopic("iot/atr/onBattery"), "short topics do not match")
}

func TestParseBatteryReport(t *testing.T) {

	assert := assert.New(t)

	payload := []byte(`{"header":{"pri":1},"body":{"data":{"value":77,"isLow":0}}}`)
	report := parseReport("iot/atr/onBattery/E0001234567890/yna5xi/atom/j", payload)

	battery, ok := report.(BatteryReport)
	assert.True(ok)
	assert.Equal(77, battery.Percent)
	assert.Equal("E0001234567890", battery.ReportDeviceID())
}

func TestParseCleanReport(t *testing.T) {

	assert := assert.New(t)

	payload := []byte(`{"body":{"data":{"trigger":"app","state":"clean"}}}`)
	report := parseReport("iot/atr/onCleanInfo/E0001234567890/yna5xi/atom/j", payload)

	clean, ok := report.(CleanReport)
	assert.True(ok)
	assert.Equal("clean", clean.State)
}

func TestParseErrorReport(t *testing.T) {

	assert := assert.New(t)

	payload := []byte(`{"body":{"data":{"code":[102]}}}`)
	report := parseReport("iot/atr/onError/E0001234567890/yna5xi/atom/j", payload)

	devErr, ok := report.(ErrorReport)
	assert.True(ok)
	assert.Equal(102, devErr.Code)
	assert.Equal("device error 102", devErr.Message)
}

func TestParseReportUnknownName(t *testing.T) {

	assert := assert.New(t)

	payload := []byte(`{"body":{"data":{}}}`)
	report := parseReport("iot/atr/onStats/E0001234567890/yna5xi/atom/j", payload)
	assert.Nil(report)
}

func TestParseReportBadTopic(t *testing.T) {

	assert := assert.New(t)

	report := parseReport("iot/cfg/onBattery/did/class/res/j", []byte(`{}`))
	assert.Nil(report)
}

func TestParseReportBadPayload(t *testing.T) {

	assert := assert.New(t)

	report := parseReport("iot/atr/onBattery/did/class/res/j", []byte(`not json`))
	assert.Nil(report)
}
