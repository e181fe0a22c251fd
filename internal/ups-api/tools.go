package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	toolNameSnapshot = "ups_snapshot"
	toolNameBattery  = "ups_battery"
)

// Registration pairs an MCP tool definition with its handler function.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

func RegisterAll(s *server.MCPServer, registrations []Registration) {
	for _, r := range registrations {
		s.AddTool(r.Tool, r.Handler)
	}
}

// Tools returns the read-only UPS tools.
func Tools(source SnapshotSource) []Registration {
	return []Registration{
		snapshotTool(source),
		batteryTool(source),
	}
}

func snapshotTool(source SnapshotSource) Registration {
	tool := mcp.NewTool(toolNameSnapshot,
		mcp.WithDescription("Latest UPS telemetry with field names normalized and units appended to the name, e.g. battery_voltage_mv."),
	)
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(source.Snapshot()), nil
	}
	return Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

type batteryStatus struct {
	VoltageMV        *float64 `json:"voltage_mv"`
	AverageVoltageMV *float64 `json:"average_voltage_mv"`
	DischargeMA      *float64 `json:"discharge_current_ma"`
	Percent          *float64 `json:"percent"`
}

func batteryTool(source SnapshotSource) Registration {
	tool := mcp.NewTool(toolNameBattery,
		mcp.WithDescription("UPS battery voltage, 60 second average voltage, discharge current and estimated charge remaining."),
	)
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reading, err := telemetry.DecodeReading(source.Snapshot())
		if err != nil {
			return errorResult(err.Error()), nil
		}
		status := batteryStatus{
			VoltageMV:        finiteOrNil(reading.BatteryVoltage),
			AverageVoltageMV: finiteOrNil(reading.BatteryVoltageAverage),
			DischargeMA:      finiteOrNil(reading.DischargeCurrent),
			Percent:          finiteOrNil(reading.Remaining),
		}
		return jsonResult(status), nil
	}
	return Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("error marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

func errorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultText(fmt.Sprintf("error: %s", msg))
}
