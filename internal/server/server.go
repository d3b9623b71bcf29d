package server

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"folio/internal/logger"
	"folio/internal/storage"
	"folio/internal/uploads"
)

// BuildInfo identifies the running binary in health output.
type BuildInfo struct {
	Version string
	Commit  string
}

// Config carries the dependencies and settings of the HTTP server.
type Config struct {
	Addr  string // e.g. ":8080"
	Build BuildInfo

	Files       *storage.Store
	Uploads     *uploads.Coordinator
	DB          *sql.DB // readiness probe; may be nil in tests
	DefaultTTL  time.Duration
	CORSOrigins []string

	// WebFS serves static frontend assets at "/". Nil disables it.
	WebFS http.FileSystem

	Log     *logger.Logger
	Metrics *Metrics
}

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	cfg        Config
}

// New builds the router and returns an unstarted server.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}

	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(cfg.Log, cfg.Metrics))
	r.Use(chimw.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/metrics", cfg.Metrics.Handler())

	r.Route("/files", func(r chi.Router) {
		fileServer := http.StripPrefix("/files/", http.FileServer(cfg.Files.HTTPFileSystem()))
		r.Method(http.MethodGet, "/*", fileServer)
		r.Method(http.MethodHead, "/*", fileServer)
		r.Post("/*", s.handleCreateFile)
		r.Put("/*", s.handleUpsertFile)
		r.Delete("/*", s.handleDeleteFile)
	})

	r.Post("/uploads", s.handleUpload)

	if cfg.WebFS != nil {
		r.Method(http.MethodGet, "/*", http.FileServer(cfg.WebFS))
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
