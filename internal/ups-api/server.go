// Package api serves the latest UPS snapshot over HTTP: an MCP tool server
// for agents and a Prometheus /metrics endpoint.
package api

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/TheCacophonyProject/ups-monitor/telemetry"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	mcpPath     = "/mcp"
	metricsPath = "/metrics"
)

var log = logrus.New()

func SetLogger(l *logrus.Logger) {
	log = l
}

// Config for the HTTP surface, disabled while Address is empty.
type Config struct {
	Address string `mapstructure:"address"`
}

func DefaultConfig() Config {
	return Config{}
}

func (c Config) Enabled() bool {
	return c.Address != ""
}

// SnapshotSource provides the current snapshot on demand.
type SnapshotSource interface {
	Snapshot() telemetry.Snapshot
}

type Server struct {
	config     Config
	mcp        *server.MCPServer
	registry   *prometheus.Registry
	values     *prometheus.GaugeVec
	httpServer *http.Server
	listener   net.Listener
}

func New(cfg Config, source SnapshotSource, version string) *Server {
	mcpServer := server.NewMCPServer(
		"ups-monitor",
		version,
		server.WithToolCapabilities(false),
	)
	RegisterAll(mcpServer, Tools(source))

	values := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ups_telemetry_value",
		Help: "Latest numeric UPS telemetry value, by normalized field name.",
	}, []string{"field"})
	registry := prometheus.NewRegistry()
	registry.MustRegister(values)

	s := &Server{
		config:   cfg,
		mcp:      mcpServer,
		registry: registry,
		values:   values,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(mcpPath, server.NewStreamableHTTPServer(s.mcp))
	mux.Handle(metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = l
	log.Infof("API listening on %s", l.Addr())
	go func() {
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server error: ", err)
		}
	}()
	return nil
}

// Addr is the address being listened on, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// UpdateMetrics replaces the exported gauges with the numeric fields of
// snapshot. Fields that are missing or no longer numeric are dropped.
func (s *Server) UpdateMetrics(snapshot telemetry.Snapshot) {
	s.values.Reset()
	for field, v := range snapshot.Numbers() {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		s.values.WithLabelValues(field).Set(v)
	}
}

func (s *Server) Report(_ context.Context, snapshot telemetry.Snapshot) error {
	s.UpdateMetrics(snapshot)
	return nil
}
