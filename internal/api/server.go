package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/auth"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/logging"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/metrics"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/schedule"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceService is the device use-case layer. *control.Service satisfies it.
type DeviceService interface {
	Pair(ctx context.Context, ownerID, deviceID string, d device.Descriptor) (device.Twin, error)
	Control(ctx context.Context, ownerID, deviceID string, delta device.Delta) (device.Twin, error)
	Unpair(ctx context.Context, ownerID, deviceID string) error
	UpdateDescriptor(ctx context.Context, ownerID, deviceID string, u device.DescriptorUpdate) (device.Twin, error)
	Get(ctx context.Context, ownerID, deviceID string) (device.Twin, error)
	ListByOwner(ctx context.Context, ownerID string) ([]device.Twin, error)
	RequestStatus(ctx context.Context, ownerID, deviceID string) error
}

// ScheduleService is the schedule use-case layer. *schedule.Service satisfies it.
type ScheduleService interface {
	Create(ctx context.Context, ownerID string, d schedule.Draft) (schedule.Schedule, error)
	Update(ctx context.Context, ownerID, id string, d schedule.Draft) (schedule.Schedule, error)
	Delete(ctx context.Context, ownerID, id string) error
	Get(ctx context.Context, ownerID, id string) (schedule.Schedule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]schedule.Schedule, error)
	SetStatus(ctx context.Context, ownerID, id string, status schedule.Status) (schedule.Schedule, error)
}

// HealthChecker is a dependency reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Devices   DeviceService
	Schedules ScheduleService
	Metrics   *metrics.Metrics

	// Health lists dependencies by name (e.g. "database", "mqtt").
	Health map[string]HealthChecker

	// Hub, if set, is used instead of a hub created by Start. The services
	// need it as their notifier before the server starts.
	Hub *Hub

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	devices     DeviceService
	schedules   ScheduleService
	metrics     *metrics.Metrics
	health      map[string]HealthChecker
	verifier    *auth.Verifier
	tickets     *ticketStore
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, device and schedule services)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device service is required")
	}
	if deps.Schedules == nil {
		return nil, fmt.Errorf("schedule service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		schedules: deps.Schedules,
		metrics:   deps.Metrics,
		health:    deps.Health,
		verifier:  auth.NewVerifier(deps.Security.JWT.Secret, deps.Security.JWT.Issuer),
		tickets:   newTicketStore(),
		version:   deps.Version,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected) and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
//
// Parameters:
//   - ctx: Parent context for the hub and ticket cleanup goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.Hub()
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the WebSocket hub, creating it if needed. Services use it
// as their change notifier.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	s.Hub()
	return s.buildRouter()
}
