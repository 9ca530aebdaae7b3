// Package server is the HTTP boundary: routing, request validation,
// and the send orchestration state machine.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"areacast/internal/audit"
	"areacast/internal/channel"
	"areacast/internal/directory"
	"areacast/internal/events"
	"areacast/internal/metrics"
	"areacast/internal/notify"
	"areacast/internal/provider"
	"areacast/pkg/logx"
)

// PickBackend names the backend a channel would use without constructing
// it. The bool reports whether the backend takes bare phone numbers for
// whatsapp (no address marker). Must never fail; estimates rely on it.
type PickBackend func(ch channel.Channel) (backend string, native bool)

// SenderFactory constructs the backend for a channel. Construction may
// fail on missing credentials or sender identity; the factory is only
// invoked for live sends.
type SenderFactory func(ch channel.Channel) (provider.Sender, error)

type Options struct {
	Listen      string
	CORSOrigins []string

	Log       logx.Logger
	Directory *directory.Loader
	Pick      PickBackend
	SenderFor SenderFactory

	Workers   int
	PaceBulk  time.Duration
	PaceCloud time.Duration

	Pricing audit.Pricing
	Store   audit.Store

	Publisher events.Publisher
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
}

type Server struct {
	opts     Options
	log      logx.Logger
	validate *validator.Validate

	router chi.Router
	http   *http.Server
	ln     net.Listener
}

func New(opts Options) *Server {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	s := &Server{
		opts:     opts,
		log:      opts.Log,
		validate: validator.New(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/public_config", s.handlePublicConfig)
		r.Get("/areas", s.handleAreas)
		r.Post("/send", s.handleSend)
	})
	return r
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener and serves in the background. A bind failure
// is returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	s.http = nil
	s.ln = nil
	return err
}

// Addr returns the bound address, useful when Listen used port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}
