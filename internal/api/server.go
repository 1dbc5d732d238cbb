package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/audit"
	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/device"
	"github.com/smartcat/habitat-core/internal/devicelink"
	"github.com/smartcat/habitat-core/internal/infrastructure/config"
	"github.com/smartcat/habitat-core/internal/infrastructure/database"
	"github.com/smartcat/habitat-core/internal/infrastructure/logging"
	"github.com/smartcat/habitat-core/internal/notify"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is an optional dependency reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// LinkMetricsProvider exposes the MQTT device link counters.
type LinkMetricsProvider interface {
	Metrics() devicelink.Metrics
}

// Deps holds the dependencies of the API server. Push, PushTargets, Link,
// Hub and the entries of Checks are optional.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger

	DB        *database.DB
	Devices   *device.Registry
	Snapshots *snapshot.Manager
	Alerts    *alert.Engine
	Commands  *command.Queue

	Push           *notify.Dispatcher
	PushTargets    notify.TargetRepository
	VAPIDPublicKey string

	// AlertHistoryLimit is the default page size of the alert history.
	AlertHistoryLimit int

	Link   LinkMetricsProvider
	Checks map[string]HealthChecker

	// Audit, if set, receives an entry for every configuration change.
	Audit *audit.Trail

	// Hub, if set, is used instead of a hub created by Start.
	Hub *Hub

	Version string
}

// Server is the habitat HTTP API and WebSocket endpoint.
type Server struct {
	cfg    config.APIConfig
	wsCfg  config.WebSocketConfig
	logger *logging.Logger

	db        *database.DB
	devices   *device.Registry
	snapshots *snapshot.Manager
	alerts    *alert.Engine
	commands  *command.Queue

	push        *notify.Dispatcher
	pushTargets notify.TargetRepository
	vapidKey    string

	alertLimit int
	link       LinkMetricsProvider
	checks     map[string]HealthChecker
	audit      *audit.Trail

	version   string
	startTime time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New validates deps and creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.DB == nil:
		return nil, errors.New("api: database is required")
	case deps.Devices == nil:
		return nil, errors.New("api: device registry is required")
	case deps.Snapshots == nil:
		return nil, errors.New("api: snapshot manager is required")
	case deps.Alerts == nil:
		return nil, errors.New("api: alert engine is required")
	case deps.Commands == nil:
		return nil, errors.New("api: command queue is required")
	}

	alertLimit := deps.AlertHistoryLimit
	if alertLimit <= 0 {
		alertLimit = 50
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		db:          deps.DB,
		devices:     deps.Devices,
		snapshots:   deps.Snapshots,
		alerts:      deps.Alerts,
		commands:    deps.Commands,
		push:        deps.Push,
		pushTargets: deps.PushTargets,
		vapidKey:    deps.VAPIDPublicKey,
		alertLimit:  alertLimit,
		link:        deps.Link,
		checks:      deps.Checks,
		audit:       deps.Audit,
		version:     deps.Version,
		startTime:   time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub so other components can broadcast through it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background until Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("api: listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops background goroutines and shuts the listener down, waiting
// up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
