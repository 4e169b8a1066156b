// Package web serves the status API and the live task event websocket.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Config holds server configuration
type Config struct {
	Port        int
	CORSOrigins []string // empty allows every origin
	Version     string
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *Config
	listener   net.Listener
	hub        *Hub // WebSocket Hub
}

// NewServer creates a new HTTP server. hub may be nil to disable /ws.
func NewServer(cfg *Config, hub *Hub) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		config: cfg,
		hub:    hub,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
}

func (s *Server) setupRoutes() {
	// WebSocket
	if s.hub != nil {
		s.router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWs(s.hub, w, r)
		})
	}

	version := s.config.Version
	if version == "" {
		version = "dev"
	}
	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, `{"status":"ok","version":%q}`, version); err != nil {
			_ = err // Client disconnected
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s.httpServer.Serve(listener)
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BaseURL returns the server's base URL
func (s *Server) BaseURL() string {
	if s.listener != nil {
		return fmt.Sprintf("http://%s", s.listener.Addr().String())
	}
	return fmt.Sprintf("http://localhost:%d", s.config.Port)
}

// RegisterTasksHandler registers task status API handlers
func (s *Server) RegisterTasksHandler(handler interface{}) {
	type tasksHandler interface {
		List(w http.ResponseWriter, r *http.Request)
		Get(w http.ResponseWriter, r *http.Request)
		Cancel(w http.ResponseWriter, r *http.Request)
	}

	if h, ok := handler.(tasksHandler); ok {
		s.router.Route("/api/v1/tasks", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/{kind}", h.Get)
			r.Delete("/{kind}", h.Cancel)
		})
	}
}

// RegisterListenHandler registers the listen registry listing
func (s *Server) RegisterListenHandler(handler interface{}) {
	type listenHandler interface {
		List(w http.ResponseWriter, r *http.Request)
	}

	if h, ok := handler.(listenHandler); ok {
		s.router.Get("/api/v1/listen", h.List)
	}
}

// RegisterAuthHandler registers auth API handlers
func (s *Server) RegisterAuthHandler(handler interface{}) {
	type authHandler interface {
		GetStatus(w http.ResponseWriter, r *http.Request)
		StartQR(w http.ResponseWriter, r *http.Request)
	}

	if h, ok := handler.(authHandler); ok {
		s.router.Route("/api/v1/auth", func(r chi.Router) {
			r.Get("/status", h.GetStatus)
			r.Post("/qr", h.StartQR)
		})
	}
}

// Router returns the underlying Chi router for external route mounting.
func (s *Server) Router() *chi.Mux {
	return s.router
}
