package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/nerrad567/lanwake/internal/auth"
	"github.com/nerrad567/lanwake/internal/controller"
	"github.com/nerrad567/lanwake/internal/events"
	"github.com/nerrad567/lanwake/internal/heartbeat"
	"github.com/nerrad567/lanwake/internal/infrastructure/config"
	"github.com/nerrad567/lanwake/internal/infrastructure/database"
	"github.com/nerrad567/lanwake/internal/infrastructure/logging"
	"github.com/nerrad567/lanwake/internal/macaddr"
	"github.com/nerrad567/lanwake/internal/ratelimit"
	"github.com/nerrad567/lanwake/internal/registry"
	"github.com/nerrad567/lanwake/internal/scanner"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the part of the orchestrator the handlers use.
type Controller interface {
	RequestScan() bool
	ScanPending() bool
	Connectivity() *controller.Connectivity
}

// Waker sends magic packets. *wol.Sender satisfies it.
type Waker interface {
	Wake(ctx context.Context, mac macaddr.MAC, broadcast netip.Addr) error
}

// ScanStatus exposes the scanner's progress. *scanner.Scanner satisfies it.
type ScanStatus interface {
	State() scanner.State
	LastResult() (scanner.PassResult, bool)
}

// HeartbeatStatus exposes the heartbeat schedule. *heartbeat.Reporter
// satisfies it.
type HeartbeatStatus interface {
	Interval() time.Duration
	LastResult() (heartbeat.Result, bool)
}

// BrokerStatus reports whether the MQTT client is connected.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Limiter    *ratelimit.Limiter
	Clock      ratelimit.Clock // defaults to a monotonic clock
	Verifier   *auth.Verifier
	Registry   *registry.Registry
	Controller Controller
	Waker      Waker
	Events     *events.Fanout // optional
	Hub        *Hub           // optional; created by New when nil
	Scanner    ScanStatus     // optional
	Heartbeat  HeartbeatStatus
	MQTT       BrokerStatus
	DB         *database.DB
	Panel      http.Handler // optional; the operator page mounted at /ui/
	Version    string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware and websocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	limiter    *ratelimit.Limiter
	clock      ratelimit.Clock
	verifier   *auth.Verifier
	registry   *registry.Registry
	controller Controller
	waker      Waker
	events     *events.Fanout
	scanner    ScanStatus
	heartbeat  HeartbeatStatus
	mqtt       BrokerStatus
	db         *database.DB
	panel      http.Handler
	version    string
	startTime  time.Time
	tickets    *ticketStore
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates an API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Limiter == nil:
		return nil, errors.New("rate limiter is required")
	case deps.Verifier == nil:
		return nil, errors.New("credential verifier is required")
	case deps.Registry == nil:
		return nil, errors.New("device registry is required")
	case deps.Controller == nil:
		return nil, errors.New("controller is required")
	case deps.Waker == nil:
		return nil, errors.New("wake sender is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = ratelimit.NewMonotonicClock()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		limiter:    deps.Limiter,
		clock:      clock,
		verifier:   deps.Verifier,
		registry:   deps.Registry,
		controller: deps.Controller,
		waker:      deps.Waker,
		events:     deps.Events,
		scanner:    deps.Scanner,
		heartbeat:  deps.Heartbeat,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		panel:      deps.Panel,
		version:    deps.Version,
		startTime:  time.Now(),
		tickets:    newTicketStore(),
		hub:        hub,
	}, nil
}

// Hub returns the websocket hub so it can be registered as an event sink
// before Start.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start runs the hub and ticket cleanup and launches the HTTP listener in
// a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.Hub().Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
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

// HealthCheck verifies the API server has been started.
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
