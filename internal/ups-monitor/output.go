package monitor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// Printer logs each snapshot at info level.
type Printer struct {
	format string
	print  func(args ...interface{})
}

func NewPrinter(format string) *Printer {
	return &Printer{format: format, print: log.Info}
}

func (p *Printer) Report(_ context.Context, snapshot telemetry.Snapshot) error {
	out, err := formatSnapshot(snapshot, p.format)
	if err != nil {
		return err
	}
	p.print(out)
	return nil
}

func formatSnapshot(snapshot telemetry.Snapshot, format string) (string, error) {
	switch format {
	case formatYAML:
		b, err := yaml.Marshal(snapshot)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\n"), nil
	default:
		b, err := json.Marshal(snapshot)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
