package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/TheCacophonyProject/ups-monitor/telemetry"
)

const readBufferSize = 1024

// Reporter receives a fresh snapshot on every print tick.
type Reporter interface {
	Report(ctx context.Context, snapshot telemetry.Snapshot) error
}

type ReporterFunc func(ctx context.Context, snapshot telemetry.Snapshot) error

func (f ReporterFunc) Report(ctx context.Context, snapshot telemetry.Snapshot) error {
	return f(ctx, snapshot)
}

// Monitor feeds a serial stream into a Processor and drives the sampling and
// reporting timers. All processor mutation happens on the goroutine running Run.
type Monitor struct {
	processor      *telemetry.Processor
	source         io.Reader
	assembler      *telemetry.LineAssembler
	sampleInterval time.Duration
	printInterval  time.Duration
	reporters      []Reporter
}

func New(processor *telemetry.Processor, source io.Reader, conf *Config, reporters ...Reporter) *Monitor {
	m := &Monitor{
		processor:      processor,
		source:         source,
		sampleInterval: conf.SampleInterval,
		printInterval:  conf.PrintInterval,
		reporters:      reporters,
	}
	if conf.ReassembleLines {
		m.assembler = &telemetry.LineAssembler{}
	}
	return m
}

type readResult struct {
	chunk string
	err   error
}

// Run blocks until ctx is cancelled or the stream fails. A closed or failed
// stream is returned as an error, there is no reconnect.
func (m *Monitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan readResult)
	go m.read(ctx, results)

	sampleTicker := time.NewTicker(m.sampleInterval)
	defer sampleTicker.Stop()
	printTicker := time.NewTicker(m.printInterval)
	defer printTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if r.chunk != "" {
				m.apply(r.chunk)
			}
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return fmt.Errorf("serial stream closed: %w", r.err)
				}
				return fmt.Errorf("reading serial stream: %w", r.err)
			}
		case <-sampleTicker.C:
			m.processor.SampleVoltage()
		case <-printTicker.C:
			m.report(ctx)
		}
	}
}

func (m *Monitor) read(ctx context.Context, results chan<- readResult) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := m.source.Read(buf)
		if n == 0 && err == nil {
			continue
		}
		select {
		case results <- readResult{chunk: string(buf[:n]), err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Monitor) apply(chunk string) {
	log.Debugf("Received %q", chunk)
	if m.assembler != nil {
		chunk = m.assembler.Feed(chunk)
		if chunk == "" {
			return
		}
	}
	m.processor.ApplyChunk(chunk)
}

func (m *Monitor) report(ctx context.Context) {
	snapshot := m.processor.Snapshot()
	for _, r := range m.reporters {
		if err := r.Report(ctx, snapshot); err != nil {
			log.Warn("Error reporting snapshot: ", err)
		}
	}
}
