package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/control"
	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/config"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartbulb-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the control facade surface the API drives.
// Satisfied by *control.Facade.
type Controller interface {
	SimulatorMode() bool
	Scan(ctx context.Context) error
	StopScan()
	Scanning() bool
	Devices() []device.Descriptor
	Connect(ctx context.Context, id string) (*session.Session, error)
	ConnectSaved(ctx context.Context, saved device.SavedDevice) (*session.Session, error)
	Session() *session.Session
	Apply(cmd device.Command) <-chan error
	Disconnect()
	Subscribe(fn control.Subscriber) (unsubscribe func())
}

// ModeStore persists the simulator-mode flag. Satisfied by *settings.Store.
type ModeStore interface {
	SetSimulatorMode(ctx context.Context, on bool) error
}

// Directory is the signed-in account's saved bulbs.
// Satisfied by *account.Directory.
type Directory interface {
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	Email(ctx context.Context) (string, error)
	List(ctx context.Context) ([]device.SavedDevice, error)
	Lookup(ctx context.Context, id string) (device.SavedDevice, error)
	Add(ctx context.Context, desc device.Descriptor, name, room string) (device.SavedDevice, error)
	Update(ctx context.Context, id, name, room string) error
	Remove(ctx context.Context, id string) error
	Seen(ctx context.Context, id string) error
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

// HealthCheck implements HealthChecker.
func (f HealthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Control Controller
	Mode    ModeStore

	// Directory is optional; saved-bulb routes answer 503 without it.
	Directory Directory

	// Health lists the components reported by GET /health, by name.
	Health map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	control   Controller
	mode      ModeStore
	directory Directory
	health    map[string]HealthChecker
	version   string

	hub     *Hub
	limiter *clientRateLimiter
	router  http.Handler

	mu          sync.Mutex
	ctx         context.Context // lifetime of scans started over HTTP
	cancel      context.CancelFunc
	server      *http.Server
	listener    net.Listener
	unsubscribe func()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("control facade is required")
	}
	if deps.Mode == nil {
		return nil, fmt.Errorf("mode store is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		control:   deps.Control,
		mode:      deps.Mode,
		directory: deps.Directory,
		health:    deps.Health,
		version:   deps.Version,
		hub:       NewHub(deps.WS, deps.Logger),
		ctx:       ctx,
		cancel:    cancel,
	}
	if deps.Config.RateLimit.Enabled {
		s.limiter = newClientRateLimiter(deps.Config.RateLimit.RequestsPerMinute, deps.Config.RateLimit.Burst)
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler with its middleware stack.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start relays facade events to the WebSocket hub and begins listening in
// a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.unsubscribe = s.control.Subscribe(s.relayEvent)
	if s.limiter != nil {
		go s.limiter.cleanupLoop(s.ctx)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		s.logger.Info("API server listening", "address", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.hub.closeAll()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
