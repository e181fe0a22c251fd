package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

type fakeSignaler struct {
	signals [][2]float64
}

func (f *fakeSignaler) SendBatterySignal(voltage, percent float64) error {
	f.signals = append(f.signals, [2]float64{voltage, percent})
	return nil
}

type fakePin struct {
	levels []gpio.Level
}

func (f *fakePin) Out(l gpio.Level) error {
	f.levels = append(f.levels, l)
	return nil
}

func mockEvents(t *testing.T) *[]eventclient.Event {
	var events []eventclient.Event
	orig := addEvent
	addEvent = func(e eventclient.Event) error {
		events = append(events, e)
		return nil
	}
	t.Cleanup(func() { addEvent = orig })
	return &events
}

func batterySnapshot(voltage, percent string) telemetry.Snapshot {
	state := telemetry.NewState()
	state.Set(telemetry.KeyBatteryVoltage, voltage)
	state.Set(telemetry.KeyRemaining, percent)
	return telemetry.Normalize(state)
}

func eventTypes(events []eventclient.Event) []string {
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestBatteryReporter(t *testing.T) {
	events := mockEvents(t)
	signaler := &fakeSignaler{}
	pin := &fakePin{}
	b := NewBatteryReporter(testConfig(), signaler, pin)
	ctx := context.Background()

	require.NoError(t, b.Report(ctx, batterySnapshot("11800mV", "87.50")))
	assert.Equal(t, []string{batteryEventType}, eventTypes(*events))
	assert.Equal(t, 88, (*events)[0].Details["battery"])
	assert.Equal(t, 11.8, (*events)[0].Details["voltage"])
	assert.Equal(t, [][2]float64{{11.8, 87.5}}, signaler.signals)
	assert.Empty(t, pin.levels)

	// Below the change threshold.
	require.NoError(t, b.Report(ctx, batterySnapshot("11750mV", "85.00")))
	assert.Len(t, *events, 1)
	assert.Len(t, signaler.signals, 1)

	// Crossing into low battery.
	require.NoError(t, b.Report(ctx, batterySnapshot("9900mV", "15.00")))
	assert.Equal(t, []string{batteryEventType, batteryEventType, lowBatteryEventType}, eventTypes(*events))
	assert.Equal(t, []gpio.Level{gpio.High}, pin.levels)

	// Still low, only reported once.
	require.NoError(t, b.Report(ctx, batterySnapshot("9880mV", "14.00")))
	assert.Len(t, *events, 3)
	assert.Equal(t, []gpio.Level{gpio.High}, pin.levels)

	// Recovered.
	require.NoError(t, b.Report(ctx, batterySnapshot("10800mV", "50.00")))
	assert.Equal(t, []string{batteryEventType, batteryEventType, lowBatteryEventType, batteryEventType}, eventTypes(*events))
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.levels)
	assert.Len(t, signaler.signals, 3)
}

func TestBatteryReporterIgnoresMissingPercent(t *testing.T) {
	events := mockEvents(t)
	b := NewBatteryReporter(testConfig(), nil, nil)

	require.NoError(t, b.Report(context.Background(), batterySnapshot("11800mV", "NaN")))
	require.NoError(t, b.Report(context.Background(), telemetry.Snapshot{}))
	assert.Empty(t, *events)
}

func TestBatteryReporterEventsDisabled(t *testing.T) {
	events := mockEvents(t)
	conf := testConfig()
	conf.Events = false
	signaler := &fakeSignaler{}
	b := NewBatteryReporter(conf, signaler, nil)

	require.NoError(t, b.Report(context.Background(), batterySnapshot("9700mV", "5.00")))
	assert.Empty(t, *events)
	assert.Len(t, signaler.signals, 1)
}

func TestBatteryReporterEventError(t *testing.T) {
	orig := addEvent
	addEvent = func(eventclient.Event) error { return errors.New("no event reporter") }
	t.Cleanup(func() { addEvent = orig })

	b := NewBatteryReporter(testConfig(), nil, nil)
	assert.NoError(t, b.Report(context.Background(), batterySnapshot("11800mV", "87.50")))
}

func TestShouldReportEvent(t *testing.T) {
	b := NewBatteryReporter(testConfig(), nil, nil)
	assert.True(t, b.ShouldReportEvent(50))
	assert.False(t, b.ShouldReportEvent(54.9))
	assert.True(t, b.ShouldReportEvent(55))
	assert.False(t, b.ShouldReportEvent(51))
	assert.True(t, b.ShouldReportEvent(0))
}
