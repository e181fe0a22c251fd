package telemetry

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoltageWindowBounded(t *testing.T) {
	w := NewVoltageWindow(DefaultWindowSize)
	for i := 1; i <= 200; i++ {
		w.Add(float64(i))
		require.LessOrEqual(t, w.Len(), DefaultWindowSize)
	}
}

func TestVoltageWindowDropsOldest(t *testing.T) {
	w := NewVoltageWindow(60)
	expected := []float64{}
	for i := 1; i <= 61; i++ {
		w.Add(float64(i))
		if i >= 2 {
			expected = append(expected, float64(i))
		}
	}
	assert.Equal(t, expected, w.Samples())
}

func TestVoltageWindowDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultWindowSize, NewVoltageWindow(0).Size())
	assert.Equal(t, DefaultWindowSize, NewVoltageWindow(-3).Size())
	assert.Equal(t, 5, NewVoltageWindow(5).Size())
}

func TestVoltageWindowMean(t *testing.T) {
	w := NewVoltageWindow(60)
	assert.True(t, math.IsNaN(w.Mean()))
	for _, v := range []float64{11800, 11900, 12000} {
		w.Add(v)
	}
	assert.Equal(t, 11900.0, w.Mean())
}

func TestRollingAverage(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	for _, mv := range []int{11800, 11900, 12000} {
		p.ApplyChunk(fmt.Sprintf("Battery voltage = %dmV\n", mv))
		p.SampleVoltage()
	}
	v, ok := p.Value(KeyBatteryVoltageAverage)
	require.True(t, ok)
	assert.Equal(t, "11900mV", v)
	assert.Equal(t, []float64{11800, 11900, 12000}, p.WindowSamples())
}

func TestRollingAverageWithoutVoltage(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	p.SampleVoltage()
	v, ok := p.Value(KeyBatteryVoltageAverage)
	require.True(t, ok)
	assert.Equal(t, "NaNmV", v)
	assert.Empty(t, p.WindowSamples())
}

func TestRollingAverageKeepsSamplingStaleVoltage(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), 3)
	p.ApplyChunk("Battery voltage = 12000mV\n")
	for i := 0; i < 5; i++ {
		p.SampleVoltage()
	}
	assert.Equal(t, []float64{12000, 12000, 12000}, p.WindowSamples())
}

func TestRollingAverageEmptyVoltageIsZero(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	p.ApplyChunk("Battery voltage = 12000mV\n")
	p.SampleVoltage()
	p.ApplyChunk("Battery voltage = mV\n")
	p.SampleVoltage()
	v, _ := p.Value(KeyBatteryVoltageAverage)
	assert.Equal(t, "6000mV", v)
	assert.Equal(t, []float64{12000, 0}, p.WindowSamples())
}

func TestRollingAverageNonNumericVoltage(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	p.ApplyChunk("Battery voltage = 12000mV\n")
	p.SampleVoltage()
	p.ApplyChunk("Battery voltage = low\n")
	p.SampleVoltage()
	v, _ := p.Value(KeyBatteryVoltageAverage)
	assert.Equal(t, "NaNmV", v)
}

func TestEstimatePercent(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	p.ApplyChunk("Battery voltage = 11800mV\nBattery discharge current = 1000mA\n")
	v, ok := p.Value(KeyRemaining)
	require.True(t, ok)
	assert.Equal(t, "87.50", v)
}

func TestEstimatePercentClamps(t *testing.T) {
	tests := []struct {
		name     string
		chunk    string
		expected string
	}{
		{"over full", "Battery voltage = 13000mV\nBattery discharge current = 0mA\n", "100.00"},
		{"under empty", "Battery voltage = 9000mV\nBattery discharge current = 0mA\n", "0.00"},
		{"sag pushes under empty", "Battery voltage = 9700mV\nBattery discharge current = 5000mA\n", "0.00"},
		{"charging current", "Battery voltage = 11900mV\nBattery discharge current = -2000mA\n", "100.00"},
		{"just below a half", "Battery voltage = 11280mV\nBattery discharge current = -2994mA\n", "82.47"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
			p.ApplyChunk(tc.chunk)
			v, _ := p.Value(KeyRemaining)
			assert.Equal(t, tc.expected, v)
		})
	}
}

func TestEstimatePercentMissingFieldsGiveNaN(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	p.ApplyChunk("Battery voltage = 11800mV\n")
	v, _ := p.Value(KeyRemaining)
	assert.Equal(t, "NaN", v)

	p.ApplyChunk("Battery discharge current = lots\n")
	v, _ = p.Value(KeyRemaining)
	assert.Equal(t, "NaN", v)
}

func TestEstimatePercentOncePerChunk(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	p.ApplyChunk("Battery voltage = 9600mV\nBattery discharge current = 0mA\nBattery voltage = 12000mV\n")
	v, _ := p.Value(KeyRemaining)
	assert.Equal(t, "100.00", v)
}

func TestEstimatePercentRunsOnMalformedChunk(t *testing.T) {
	p := NewProcessor(DefaultBatteryModel(), DefaultWindowSize)
	p.ApplyChunk("garbage")
	v, ok := p.Value(KeyRemaining)
	require.True(t, ok)
	assert.Equal(t, "NaN", v)
}

func TestParseLeadingInt(t *testing.T) {
	assert.Equal(t, 11800.0, parseLeadingInt("11800mV"))
	assert.Equal(t, -250.0, parseLeadingInt(" -250 mA"))
	assert.Equal(t, 12.0, parseLeadingInt("12.9"))
	assert.True(t, math.IsNaN(parseLeadingInt("")))
	assert.True(t, math.IsNaN(parseLeadingInt("mV")))
	assert.True(t, math.IsNaN(parseLeadingInt("-")))
}

func TestParseMillivolts(t *testing.T) {
	assert.Equal(t, 11800.0, parseMillivolts("11800mV"))
	assert.Equal(t, 11800.5, parseMillivolts(" 11800.5 mV "))
	assert.Equal(t, 0.0, parseMillivolts("mV"))
	assert.Equal(t, 0.0, parseMillivolts(""))
	assert.Equal(t, 0.0, parseMillivolts("  mV "))
	assert.True(t, math.IsNaN(parseMillivolts("low")))
	assert.True(t, math.IsNaN(parseMillivolts("12V")))
}

func TestFormatFixed(t *testing.T) {
	assert.Equal(t, "87.50", formatFixed(87.5, 2))
	assert.Equal(t, "11900", formatFixed(11899.5, 0))
	assert.Equal(t, "-2", formatFixed(-1.5, 0))
	assert.Equal(t, "0.00", formatFixed(0, 2))
	assert.Equal(t, "0.00", formatFixed(math.Copysign(0, -1), 2))
	assert.Equal(t, "-0.00", formatFixed(-0.001, 2))

	// Exact ties round away from zero.
	assert.Equal(t, "3", formatFixed(2.5, 0))
	assert.Equal(t, "0.13", formatFixed(0.125, 2))
	assert.Equal(t, "-0.13", formatFixed(-0.125, 2))

	// Values stored just below a half round down.
	assert.Equal(t, "2.67", formatFixed(2.675, 2))
	assert.Equal(t, "1.00", formatFixed(1.005, 2))
	assert.Equal(t, "82.47", formatFixed(82.475, 2))
	assert.Equal(t, "NaN", formatFixed(math.NaN(), 2))
	assert.Equal(t, "Infinity", formatFixed(math.Inf(1), 0))
	assert.Equal(t, "-Infinity", formatFixed(math.Inf(-1), 0))
}
