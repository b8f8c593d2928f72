// Package http serves the finance dashboard: the server-rendered page, the
// htmx partials, the chart data and the form endpoints.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"finboard/internal/dashboard"
	applog "finboard/internal/log"
	"finboard/internal/middleware/ratelimit"
	"finboard/internal/middleware/security"
	"finboard/internal/middleware/trace"
	appweb "finboard/web"
)

// Config carries what NewServer needs besides the dashboard.
type Config struct {
	Addr string
	// APITimeout bounds every remote call made while serving a request.
	APITimeout time.Duration
	Logger     *applog.Logger
	Limiter    *ratelimit.Limiter
	ClientIP   *security.ClientIPResolver
	// Store is checked by /readyz when set.
	Store Pinger
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	dash       *dashboard.Dashboard
	templates  *template.Template
	logger     *applog.Logger
	apiTimeout time.Duration
	limiter    *ratelimit.Limiter
	store      Pinger
	trace      *trace.Middleware
	startedAt  time.Time

	submitted atomic.Int64
	failed    atomic.Int64

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// server. A template parse failure is logged and turns page routes into 500s.
func NewServer(cfg Config, dash *dashboard.Dashboard) *Server {
	if cfg.Logger == nil {
		cfg.Logger = applog.Discard()
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 7 * time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	if cfg.ClientIP == nil {
		cfg.ClientIP = security.NewClientIPResolver()
	}

	logger := cfg.Logger.WithComponent(applog.ComponentHTTP)
	s := &Server{
		dash:       dash,
		logger:     logger,
		apiTimeout: cfg.APITimeout,
		limiter:    cfg.Limiter,
		store:      cfg.Store,
		trace:      trace.NewMiddleware(cfg.ClientIP.ClientIP, cfg.Logger),
		startedAt:  time.Now(),
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.WithComponent(applog.ComponentTemplate).Warn("Failed parsing templates", applog.FieldError, err)
	} else {
		s.templates = t
	}

	r := chi.NewRouter()
	r.Use(s.trace.Handler)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		r.With(security.StaticAssetMiddleware(3600)).
			Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(sub))))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	r.Get("/", s.handleIndex)
	r.Route("/ui", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/charts", s.handleCharts)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware(cfg.ClientIP.ClientIP, s.handleRateLimited, http.MethodPost))
		r.Post("/transactions", s.handleCreateTransaction)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/notice/dismiss", s.handleDismissNotice)
	})

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2*cfg.APITimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("HTTP server shutting down", applog.FieldOperation, applog.OpShutdown)
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// remote bounds a request-scoped context by the API timeout.
func (s *Server) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.apiTimeout)
}

var templateFuncs = template.FuncMap{
	"lower": strings.ToLower,
}
