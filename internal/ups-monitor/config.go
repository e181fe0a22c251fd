package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	api "github.com/TheCacophonyProject/ups-monitor/internal/ups-api"
	publisher "github.com/TheCacophonyProject/ups-monitor/internal/ups-publisher"
	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

const upsKey = "ups"

type Config struct {
	DeviceName             string           `mapstructure:"device-name"`
	BaudRate               int              `mapstructure:"baud-rate"`
	EmptyVoltage           float64          `mapstructure:"empty-voltage"`
	FullVoltage            float64          `mapstructure:"full-voltage"`
	InternalResistance     float64          `mapstructure:"internal-resistance"`
	WindowSize             int              `mapstructure:"window-size"`
	SampleInterval         time.Duration    `mapstructure:"sample-interval"`
	PrintInterval          time.Duration    `mapstructure:"print-interval"`
	OutputFormat           string           `mapstructure:"output-format"`
	ReassembleLines        bool             `mapstructure:"reassemble-lines"`
	LowBatteryPercent      float64          `mapstructure:"low-battery-percent"`
	PercentChangeThreshold float64          `mapstructure:"percent-change-threshold"`
	AlertPin               string           `mapstructure:"alert-pin"`
	DBus                   bool             `mapstructure:"dbus"`
	Events                 bool             `mapstructure:"events"`
	MQTT                   publisher.Config `mapstructure:"mqtt"`
	API                    api.Config       `mapstructure:"api"`
}

func DefaultConfig() Config {
	model := telemetry.DefaultBatteryModel()
	return Config{
		DeviceName:             "Arduino Leonardo",
		BaudRate:               9600,
		EmptyVoltage:           model.EmptyVoltage,
		FullVoltage:            model.FullVoltage,
		InternalResistance:     model.InternalResistance,
		WindowSize:             telemetry.DefaultWindowSize,
		SampleInterval:         time.Second,
		PrintInterval:          time.Second,
		OutputFormat:           formatJSON,
		LowBatteryPercent:      20,
		PercentChangeThreshold: 5,
		DBus:                   true,
		Events:                 true,
		MQTT:                   publisher.DefaultConfig(),
		API:                    api.DefaultConfig(),
	}
}

// ParseConfig reads the [ups] section of the config file in configDir on top
// of the defaults. A missing config file gives the defaults.
func ParseConfig(configDir string) (*Config, error) {
	conf := DefaultConfig()

	rawConfig, err := goconfig.New(configDir)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debugf("No config file in %s, using defaults", configDir)
		return &conf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := rawConfig.Unmarshal(upsKey, &conf); err != nil {
		return nil, fmt.Errorf("parsing %s config: %w", upsKey, err)
	}
	return &conf, nil
}

func (c *Config) BatteryModel() telemetry.BatteryModel {
	return telemetry.BatteryModel{
		EmptyVoltage:       c.EmptyVoltage,
		FullVoltage:        c.FullVoltage,
		InternalResistance: c.InternalResistance,
	}
}

func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return errors.New("device-name is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud-rate %d", c.BaudRate)
	}
	if c.FullVoltage <= c.EmptyVoltage {
		return fmt.Errorf("full-voltage (%v) must be above empty-voltage (%v)", c.FullVoltage, c.EmptyVoltage)
	}
	if c.SampleInterval <= 0 || c.PrintInterval <= 0 {
		return errors.New("sample-interval and print-interval must be positive")
	}
	if c.OutputFormat != formatJSON && c.OutputFormat != formatYAML {
		return fmt.Errorf("unknown output-format %q", c.OutputFormat)
	}
	return nil
}

// checkConfigChanges will compare the config from when first loaded to a new config each time
// the config file is modified.
// If there is a difference then the program will exit and systemd will restart the service, causing
// the new config to be loaded.
func checkConfigChanges(conf *Config, args Args) error {
	configFilePath := filepath.Join(args.ConfigDir, goconfig.ConfigFileName)
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configFilePath, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		return err
	}
	defer notify.Stop(fsEvents)

	for {
		<-fsEvents
		newConfig, err := ParseConfig(args.ConfigDir)
		if err != nil {
			log.Error("error reloading config: ", err)
			continue
		}
		applyArgs(newConfig, args)
		if configChanged(conf, newConfig) {
			log.Info("Config changed. Exiting to allow systemctl to restart service.")
			os.Exit(0)
		}
		log.Info("No relevant changes detected in config file.")
	}
}

func configChanged(running, reloaded *Config) bool {
	diff := cmp.Diff(running, reloaded)
	log.Debug("Config diff: ", diff)
	return diff != ""
}
