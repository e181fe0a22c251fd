package telemetry

import "math"

const DefaultWindowSize = 60

// VoltageWindow keeps the most recent voltage samples (mV), oldest first.
type VoltageWindow struct {
	size    int
	samples []float64
}

func NewVoltageWindow(size int) *VoltageWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &VoltageWindow{
		size:    size,
		samples: make([]float64, 0, size+1),
	}
}

// Add appends a sample and drops the oldest ones once the window is full.
func (w *VoltageWindow) Add(mv float64) {
	w.samples = append(w.samples, mv)
	w.trim()
}

func (w *VoltageWindow) trim() {
	if extra := len(w.samples) - w.size; extra > 0 {
		w.samples = append(w.samples[:0], w.samples[extra:]...)
	}
}

func (w *VoltageWindow) Len() int {
	return len(w.samples)
}

func (w *VoltageWindow) Size() int {
	return w.size
}

// Samples returns a copy of the samples in arrival order.
func (w *VoltageWindow) Samples() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}

// Mean is the arithmetic mean of the window. An empty window gives NaN.
func (w *VoltageWindow) Mean() float64 {
	if len(w.samples) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, s := range w.samples {
		sum += s
	}
	return sum / float64(len(w.samples))
}
