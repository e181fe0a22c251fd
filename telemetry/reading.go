package telemetry

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Reading is the typed subset of a Snapshot that the rest of the service
// acts on. A nil field was not present, or not numeric, in the snapshot.
type Reading struct {
	BatteryVoltage        *float64 `mapstructure:"battery_voltage_mv"`
	BatteryVoltageAverage *float64 `mapstructure:"battery_voltage_average_mv"`
	DischargeCurrent      *float64 `mapstructure:"battery_discharge_current_ma"`
	Remaining             *float64 `mapstructure:"iremaining_real"`
}

// DecodeReading pulls the battery fields out of a snapshot.
func DecodeReading(s Snapshot) (Reading, error) {
	var r Reading
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return r, err
	}
	if err := decoder.Decode(s.Numbers()); err != nil {
		return r, fmt.Errorf("decoding reading: %w", err)
	}
	return r, nil
}

// HasPercent reports whether a finite remaining charge is available.
func (r Reading) HasPercent() bool {
	return r.Remaining != nil && !isNaNOrInf(*r.Remaining)
}
