/*
ups-monitor - Reads telemetry from a UPS microcontroller over serial
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package monitor

import (
	"encoding/json"
	"errors"
	"runtime"
	"strings"

	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	dbusName = "org.cacophony.upsmonitor"
	dbusPath = "/org/cacophony/upsmonitor"
)

type snapshotSource interface {
	Snapshot() telemetry.Snapshot
}

type upsService struct {
	conn   *dbus.Conn
	source snapshotSource
}

func startService(source snapshotSource) (*upsService, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("name already taken")
	}

	s := &upsService{
		conn:   conn,
		source: source,
	}
	if err := conn.Export(s, dbusPath, dbusName); err != nil {
		return nil, err
	}
	if err := conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the latest normalized snapshot as JSON.
func (s *upsService) Snapshot() (string, *dbus.Error) {
	b, err := json.Marshal(s.source.Snapshot())
	if err != nil {
		return "", dbusErr(err)
	}
	return string(b), nil
}

// Battery returns the battery voltage (V) and remaining charge (%).
func (s *upsService) Battery() (float64, float64, *dbus.Error) {
	reading, err := telemetry.DecodeReading(s.source.Snapshot())
	if err != nil {
		return 0, 0, dbusErr(err)
	}
	if !reading.HasPercent() || reading.BatteryVoltage == nil {
		return 0, 0, dbusErr(errors.New("no battery reading yet"))
	}
	return *reading.BatteryVoltage / 1000, *reading.Remaining, nil
}

// SendBatterySignal emits the Battery signal from the service's object path.
func (s *upsService) SendBatterySignal(voltage, percent float64) error {
	return s.conn.Emit(dbusPath, dbusName+".Battery", voltage, percent)
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
			Signals: []introspect.Signal{{
				Name: "Battery",
				Args: []introspect.Arg{
					{Name: "voltage", Type: "d"},
					{Name: "percent", Type: "d"},
				},
			}},
		}},
	}
	return introspect.NewIntrospectable(node)
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
