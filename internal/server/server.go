package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/config"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/metrics"
	"github.com/michaelbrown/codeshare/internal/relay"
	"github.com/michaelbrown/codeshare/internal/storage"
)

// Server is the room service and relay.
type Server struct {
	cfg     config.ServerConfig
	store   storage.Store
	hub     *relay.Hub
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
	http    *http.Server
}

// New creates a new Server. store may be nil, in which case rooms are not
// registered and the /api/rooms routes answer 503.
func New(cfg config.ServerConfig, store storage.Store, hub *relay.Hub, m *metrics.Metrics, logger *zap.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		metrics: m,
		logger:  logging.OrNop(logger).Named("server"),
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Post("/create_room", s.handleCreateRoom)
	r.Get("/ws/{room_id}", s.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/rooms", s.handleListRooms)
		r.Get("/rooms/{id}", s.handleGetRoom)
		r.Delete("/rooms/{id}", s.handleDeleteRoom)
		r.Get("/live", s.handleLiveRooms)
	})

	// SPA fallback
	if s.cfg.StaticDir != "" {
		r.Handle("/*", spaHandler(s.cfg.StaticDir))
	}
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("relay listening", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects every relay member and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	s.hub.Close()

	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
