package telemetry

import (
	"math"
	"sync"
)

// BatteryModel describes the pack used to turn a voltage into a charge estimate.
type BatteryModel struct {
	EmptyVoltage       float64 // mV at 0%
	FullVoltage        float64 // mV at 100%
	InternalResistance float64 // ohms
}

// DefaultBatteryModel is the 3S pack fitted to the LattePanda UPS board.
func DefaultBatteryModel() BatteryModel {
	return BatteryModel{
		EmptyVoltage:       9600,
		FullVoltage:        12000,
		InternalResistance: 0.1,
	}
}

// EstimatePercent maps a loaded battery voltage (mV) and discharge current (mA)
// onto 0-100%. The voltage drop across the internal resistance is added back
// before the voltage is placed on the empty to full range.
// NaN inputs give a NaN result.
func (m BatteryModel) EstimatePercent(voltage, current float64) float64 {
	sag := m.InternalResistance * current
	adjusted := voltage - sag
	percent := (adjusted - m.EmptyVoltage) / (m.FullVoltage - m.EmptyVoltage) * 100
	return math.Max(0, math.Min(100, percent))
}

// Processor owns the latest state and the voltage window.
// All methods are safe to call from multiple goroutines.
type Processor struct {
	mu     sync.Mutex
	state  *State
	window *VoltageWindow
	model  BatteryModel
}

func NewProcessor(model BatteryModel, windowSize int) *Processor {
	return &Processor{
		state:  NewState(),
		window: NewVoltageWindow(windowSize),
		model:  model,
	}
}

// ApplyChunk parses chunk into the state, then recalculates the remaining
// charge once for the whole chunk.
func (p *Processor) ApplyChunk(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ParseLines(chunk, p.state)
	p.updateRemaining()
}

func (p *Processor) updateRemaining() {
	voltageRaw, _ := p.state.Get(KeyBatteryVoltage)
	currentRaw, _ := p.state.Get(KeyDischargeCurrent)
	percent := p.model.EstimatePercent(parseLeadingInt(voltageRaw), parseLeadingInt(currentRaw))
	p.state.Set(KeyRemaining, formatFixed(percent, 2))
}

// SampleVoltage takes one sample of the current battery voltage, if there is
// one, and stores the rolling average. It runs on a timer whether or not new
// data has arrived.
func (p *Processor) SampleVoltage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if raw, ok := p.state.Get(KeyBatteryVoltage); ok {
		p.window.Add(parseMillivolts(raw))
	}
	p.state.Set(KeyBatteryVoltageAverage, formatFixed(p.window.Mean(), 0)+"mV")
}

// Snapshot returns the normalized view of the current state.
func (p *Processor) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Normalize(p.state)
}

// Value returns the raw value stored for key.
func (p *Processor) Value(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Get(key)
}

// State returns a copy of the latest state.
func (p *Processor) State() *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

// WindowSamples returns a copy of the voltage samples currently held.
func (p *Processor) WindowSamples() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window.Samples()
}
