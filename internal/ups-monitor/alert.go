package monitor

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// pinOut is the part of gpio.PinIO used to drive the alert output.
type pinOut interface {
	Out(l gpio.Level) error
}

// newAlertPin returns the pin driven high while the battery is low, or nil
// when no pin is configured.
func newAlertPin(name string) (pinOut, error) {
	if name == "" {
		return nil, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("failed to find GPIO pin '%s'", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, err
	}
	log.Infof("Driving %s high while the battery is low", name)
	return pin, nil
}
