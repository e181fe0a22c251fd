package monitor

import (
	"context"
	"math"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"periph.io/x/conn/v3/gpio"
)

const (
	batteryEventType    = "upsBattery"
	lowBatteryEventType = "upsLowBattery"
)

var addEvent = eventclient.AddEvent

type batterySignaler interface {
	SendBatterySignal(voltage, percent float64) error
}

// BatteryReporter turns snapshots into battery events, D-Bus signals and the
// low battery alert pin.
type BatteryReporter struct {
	events                 bool
	lowBatteryPercent      float64
	percentChangeThreshold float64
	signaler               batterySignaler
	alert                  pinOut

	lastReportedPercent float64
	low                 bool
}

// NewBatteryReporter creates a reporter. signaler and alert may be nil.
func NewBatteryReporter(conf *Config, signaler batterySignaler, alert pinOut) *BatteryReporter {
	return &BatteryReporter{
		events:                 conf.Events,
		lowBatteryPercent:      conf.LowBatteryPercent,
		percentChangeThreshold: conf.PercentChangeThreshold,
		signaler:               signaler,
		alert:                  alert,
		lastReportedPercent:    -1,
	}
}

func (b *BatteryReporter) Report(_ context.Context, snapshot telemetry.Snapshot) error {
	reading, err := telemetry.DecodeReading(snapshot)
	if err != nil {
		return err
	}
	if !reading.HasPercent() {
		log.Debug("No battery percentage available yet")
		return nil
	}
	percent := *reading.Remaining
	voltage := 0.0
	if reading.BatteryVoltage != nil {
		voltage = *reading.BatteryVoltage / 1000
	}

	if b.ShouldReportEvent(percent) {
		b.reportBatteryEvent(batteryEventType, voltage, percent)
		if b.signaler != nil {
			if err := b.signaler.SendBatterySignal(voltage, percent); err != nil {
				log.Error("Error sending battery signal: ", err)
			}
		}
	}

	low := percent < b.lowBatteryPercent
	if low == b.low {
		return nil
	}
	b.low = low
	if low {
		log.Warnf("Battery low: %.2f%%", percent)
		b.reportBatteryEvent(lowBatteryEventType, voltage, percent)
	} else {
		log.Infof("Battery recovered: %.2f%%", percent)
	}
	return b.setAlert(low)
}

// ShouldReportEvent reports whether percent has moved far enough from the last
// reported value. The first reading is always reported.
func (b *BatteryReporter) ShouldReportEvent(percent float64) bool {
	if b.lastReportedPercent < 0 ||
		math.Abs(percent-b.lastReportedPercent) >= b.percentChangeThreshold {
		b.lastReportedPercent = percent
		return true
	}
	return false
}

func (b *BatteryReporter) reportBatteryEvent(eventType string, voltage, percent float64) {
	if !b.events {
		return
	}
	roundedPercent := int(math.Round(percent))
	event := eventclient.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details: map[string]interface{}{
			"battery": roundedPercent,
			"voltage": voltage,
		},
	}
	if err := addEvent(event); err != nil {
		log.Error("Error sending battery event: ", err)
		return
	}
	log.Infof("Battery event %s: voltage=%.2fV, percent=%d%%", eventType, voltage, roundedPercent)
}

func (b *BatteryReporter) setAlert(low bool) error {
	if b.alert == nil {
		return nil
	}
	level := gpio.Low
	if low {
		level = gpio.High
	}
	return b.alert.Out(level)
}
