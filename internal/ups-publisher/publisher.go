// Package publisher sends UPS snapshots to an MQTT broker as telemetry
// messages in the ThingsBoard format.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	envServerURL = "UPS_MQTT_SERVER_URL"
	envUsername  = "UPS_MQTT_USERNAME"
	envPassword  = "UPS_MQTT_PASSWORD"

	publishTimeout = 5 * time.Second
	queueSize      = 10
)

var log = logrus.New()

func SetLogger(l *logrus.Logger) {
	log = l
}

// Config for the MQTT publisher. Publishing is off unless a server URL or an
// env file is given.
type Config struct {
	ServerURL string `mapstructure:"server-url"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Topic     string `mapstructure:"topic"`
	KeepAlive uint16 `mapstructure:"keep-alive"` // seconds between keepalive packets
	QoS       byte   `mapstructure:"qos"`
	EnvFile   string `mapstructure:"env-file"`
}

func DefaultConfig() Config {
	return Config{
		Topic:     "v1/devices/me/telemetry",
		KeepAlive: 60,
		QoS:       1,
	}
}

func (c Config) Enabled() bool {
	return c.ServerURL != "" || c.EnvFile != ""
}

// Telemetry with timestamp
//
// example:
// `{"ts": 1756742602000, "values": {"battery_voltage_mv": 11800, "status": "OK"}}`
type Telemetry struct {
	// Unix timestamp in milliseconds
	Timestamp int64              `json:"ts"`
	Values    telemetry.Snapshot `json:"values"`
}

type connection interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(ctx context.Context) error
}

var newConnection = func(ctx context.Context, cfg autopaho.ClientConfig) (connection, error) {
	return autopaho.NewConnection(ctx, cfg)
}

type Publisher struct {
	config    Config
	serverURL *url.URL
	conn      connection
	now       func() time.Time

	connected atomic.Bool
	queue     chan telemetry.Snapshot
	stop      context.CancelFunc
	done      chan struct{}
}

// New applies any credentials from the environment or env file and checks the
// server URL. It does not connect.
func New(cfg Config) (*Publisher, error) {
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("no MQTT server URL configured")
	}
	serverURL, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server URL (%s): %w", cfg.ServerURL, err)
	}
	if cfg.Topic == "" {
		return nil, errors.New("no MQTT topic configured")
	}
	return &Publisher{config: cfg, serverURL: serverURL, now: time.Now}, nil
}

// applyEnv overrides the server URL and credentials. Process environment
// variables win over values from the env file.
func applyEnv(cfg *Config) error {
	fileEnv := map[string]string{}
	if cfg.EnvFile != "" {
		var err error
		fileEnv, err = godotenv.Read(cfg.EnvFile)
		if err != nil {
			return fmt.Errorf("reading MQTT env file: %w", err)
		}
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	}
	if v := lookup(envServerURL); v != "" {
		cfg.ServerURL = v
	}
	if v := lookup(envUsername); v != "" {
		cfg.Username = v
	}
	if v := lookup(envPassword); v != "" {
		cfg.Password = v
	}
	return nil
}

// Connect starts the connection manager and the publishing goroutine. It
// does not wait for the broker: autopaho keeps retrying in the background and
// snapshots are dropped until a connection is up.
func (p *Publisher) Connect(ctx context.Context) error {
	cliCfg := autopaho.ClientConfig{
		BrokerUrls:                    []*url.URL{p.serverURL},
		KeepAlive:                     p.config.KeepAlive,
		CleanStartOnInitialConnection: true,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			log.Info("MQTT connection up")
			p.connected.Store(true)
		},
		OnConnectError: func(err error) {
			log.Errorf("Error whilst attempting MQTT connection: %s", err)
			p.connected.Store(false)
		},
		ClientConfig: paho.ClientConfig{
			OnClientError: func(err error) {
				log.Errorf("MQTT client error: %s", err)
				p.connected.Store(false)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					log.Errorf("MQTT server requested disconnect: %s", d.Properties.ReasonString)
				} else {
					log.Errorf("MQTT server requested disconnect with reason code: %d", d.ReasonCode)
				}
				p.connected.Store(false)
			},
		},
	}
	if p.config.Username != "" {
		cliCfg.ConnectUsername = p.config.Username
		cliCfg.ConnectPassword = []byte(p.config.Password)
	}

	log.Infof("Connecting to MQTT broker %s", p.serverURL.Host)
	conn, err := newConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("failed to start MQTT connection: %w", err)
	}
	p.conn = conn

	runCtx, stop := context.WithCancel(ctx)
	p.stop = stop
	p.queue = make(chan telemetry.Snapshot, queueSize)
	p.done = make(chan struct{})
	go p.run(runCtx)
	return nil
}

// run publishes queued snapshots until ctx is cancelled.
func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-p.queue:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := p.Publish(pubCtx, snapshot); err != nil {
				log.Warn(err)
			}
			cancel()
		}
	}
}

// Publish sends snapshot as one telemetry message.
func (p *Publisher) Publish(ctx context.Context, snapshot telemetry.Snapshot) error {
	if p.conn == nil {
		return errors.New("MQTT publisher is not connected")
	}
	payload, err := json.Marshal(Telemetry{
		Timestamp: p.now().UnixMilli(),
		Values:    snapshot,
	})
	if err != nil {
		return err
	}
	msg := &paho.Publish{
		QoS:     p.config.QoS,
		Topic:   p.config.Topic,
		Payload: payload,
	}
	if _, err := p.conn.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}
	log.Debugf("Published telemetry: %s", payload)
	return nil
}

// Report queues snapshot for publishing and returns without waiting on the
// broker. Snapshots are dropped while the broker is unreachable or the queue
// is full.
func (p *Publisher) Report(_ context.Context, snapshot telemetry.Snapshot) error {
	if p.queue == nil {
		return errors.New("MQTT publisher is not connected")
	}
	if !p.connected.Load() {
		log.Debug("MQTT connection down, dropping snapshot")
		return nil
	}
	select {
	case p.queue <- snapshot:
	default:
		log.Warn("MQTT publish queue full, dropping snapshot")
	}
	return nil
}

// Disconnect stops the publishing goroutine and closes the connection.
func (p *Publisher) Disconnect(ctx context.Context) error {
	if p.conn == nil {
		return nil
	}
	p.stop()
	<-p.done
	p.connected.Store(false)
	err := p.conn.Disconnect(ctx)
	p.conn = nil
	log.Info("Disconnected from MQTT broker")
	return err
}
