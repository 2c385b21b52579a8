// Package server exposes the turn pipeline over a websocket, with health and
// metrics endpoints next to it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/logging"
)

// ServiceName is reported by the gRPC health service.
const ServiceName = "nim-recall"

// releaseTimeout bounds how long a closed connection waits for its session's
// post-processing before the session is released.
const releaseTimeout = 30 * time.Second

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address for /ws, /health and /metrics.
	Addr string

	// GRPCAddr is the listen address of the gRPC health service. Empty
	// disables it.
	GRPCAddr string

	// MessagesPerSecond and Burst rate limit each session. Zero disables
	// limiting.
	MessagesPerSecond float64
	Burst             int

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Server serves conversations over websocket connections.
type Server struct {
	cfg      Config
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	limiter  *rateLimiter
	upgrader websocket.Upgrader
	health   *health.Server
	logger   *slog.Logger

	// conns counts open sockets per session; the session is released when
	// the last one closes.
	connsMu sync.Mutex
	conns   map[string]int
}

// Option configures the server.
type Option func(*Server)

// WithGatherer serves the given registry at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server in front of eng.
func New(cfg Config, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		gatherer: prometheus.DefaultGatherer,
		limiter:  newRateLimiter(cfg.MessagesPerSecond, cfg.Burst),
		health:   health.NewServer(),
		logger:   logging.Nop(),
		conns:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// RegisterHealth adds the gRPC health service to gs.
func (s *Server) RegisterHealth(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

// Run serves until ctx is cancelled, then drains in-flight post-processing.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var gs *grpc.Server
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.GRPCAddr, err)
		}
		gs = grpc.NewServer()
		s.RegisterHealth(gs)
		go func() {
			s.logger.Info("grpc health listening", "addr", s.cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	if err := s.engine.Close(shutdownCtx); err != nil {
		s.logger.Warn("post-processing did not finish", "error", err)
	}
	return runErr
}

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		session = uuid.New().String()
	}
	if !sessionPattern.MatchString(session) {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("session", session)
	logger.Info("client connected", "remote", r.RemoteAddr)

	s.attach(session)
	defer s.detach(r.Context(), session, logger)

	fe := newWSFrontend(conn, session, s.limiter, logger)
	defer fe.close()
	if err := s.engine.Serve(r.Context(), session, fe); err != nil {
		logger.Info("client disconnected", "error", err)
		return
	}
	logger.Info("client disconnected")
}

func (s *Server) attach(session string) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[session]++
}

// detach releases the session once no socket serves it anymore.
func (s *Server) detach(ctx context.Context, session string, logger *slog.Logger) {
	s.connsMu.Lock()
	s.conns[session]--
	last := s.conns[session] <= 0
	if last {
		delete(s.conns, session)
	}
	s.connsMu.Unlock()
	if !last {
		return
	}

	s.limiter.Remove(session)
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.engine.Release(releaseCtx, session); err != nil {
		logger.Warn("session release failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
