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
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/ups-monitor/serialhelper"
	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	api "github.com/TheCacophonyProject/ups-monitor/internal/ups-api"
	publisher "github.com/TheCacophonyProject/ups-monitor/internal/ups-publisher"
	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

const (
	serialRetries   = 3
	serialRetryWait = 5 * time.Second
)

var (
	version = "<not set>"
	log     = logrus.New()
)

type Args struct {
	Device          string `arg:"--device" help:"Friendly name prefix of the UPS serial port, overrides the config."`
	Baud            int    `arg:"--baud" help:"Serial baud rate, overrides the config."`
	Output          string `arg:"--output" help:"Format of printed snapshots (json, yaml), overrides the config."`
	ReassembleLines bool   `arg:"--reassemble-lines" help:"Join telemetry lines that are split across serial reads."`
	goconfig.ConfigArgs
	LogLevel string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

var defaultArgs = Args{
	ConfigArgs: goconfig.ConfigArgs{ConfigDir: goconfig.DefaultConfigDir},
}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

// applyArgs lets the command line override the config file.
func applyArgs(conf *Config, args Args) {
	if args.Device != "" {
		conf.DeviceName = args.Device
	}
	if args.Baud > 0 {
		conf.BaudRate = args.Baud
	}
	if args.Output != "" {
		conf.OutputFormat = args.Output
	}
	if args.ReassembleLines {
		conf.ReassembleLines = true
	}
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log.SetFormatter(new(customFormatter))
	setLogLevel(args.LogLevel)
	serialhelper.SetLogger(log)
	publisher.SetLogger(log)
	api.SetLogger(log)

	log.Info("Running version: ", version)

	conf, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	applyArgs(conf, args)
	if err := conf.Validate(); err != nil {
		return err
	}
	log.Debugf("Config: %+v", *conf)

	go func() {
		if err := checkConfigChanges(conf, args); err != nil {
			log.Warn("Not watching config file for changes: ", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := serialhelper.Connect(conf.DeviceName, conf.BaudRate, serialRetries, serialRetryWait)
	if errors.Is(err, serialhelper.ErrPortNotFound) {
		log.Errorf("%s not found.", conf.DeviceName)
		return err
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", conf.DeviceName, err)
	}
	defer port.Close()
	log.Infof("Connected to %s on %s", conf.DeviceName, port.Path())

	processor := telemetry.NewProcessor(conf.BatteryModel(), conf.WindowSize)

	reporters, cleanup, err := setupReporters(ctx, conf, processor)
	if err != nil {
		return err
	}
	defer cleanup()

	m := New(processor, port, conf, reporters...)
	err = m.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("Shutting down")
		return nil
	}
	return err
}

// setupReporters builds everything that consumes snapshots, as enabled in conf.
// The returned cleanup func must be called once the monitor has stopped.
func setupReporters(ctx context.Context, conf *Config, processor *telemetry.Processor) ([]Reporter, func(), error) {
	var reporters []Reporter
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	reporters = append(reporters, NewPrinter(conf.OutputFormat))

	var signaler batterySignaler
	if conf.DBus {
		s, err := startService(processor)
		if err != nil {
			log.Error("Failed to start D-Bus service: ", err)
		} else {
			signaler = s
		}
	}

	alert, err := newAlertPin(conf.AlertPin)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	reporters = append(reporters, NewBatteryReporter(conf, signaler, alert))

	if conf.MQTT.Enabled() {
		pub, err := publisher.New(conf.MQTT)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := pub.Connect(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Disconnect(shutdownCtx); err != nil {
				log.Warn("Error disconnecting from MQTT broker: ", err)
			}
		})
		reporters = append(reporters, pub)
	}

	if conf.API.Enabled() {
		server := api.New(conf.API, processor, version)
		if err := server.Start(); err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("Error stopping API server: ", err)
			}
		})
		reporters = append(reporters, server)
	}

	return reporters, cleanup, nil
}
