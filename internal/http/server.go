package http

import (
	"context"
	"html/template"
	"net/http"
	"sync"
	"time"

	"kpiprogress/internal/backend"
	"kpiprogress/internal/cache"
	"kpiprogress/internal/core"
	applog "kpiprogress/internal/log"
	"kpiprogress/internal/middleware/ratelimit"
	"kpiprogress/internal/middleware/security"
	"kpiprogress/internal/middleware/trace"
	"kpiprogress/internal/services"
	appweb "kpiprogress/web"
)

// Options tunes the server. Zero values get defaults.
type Options struct {
	SessionTTL  time.Duration
	MaxSessions int
	CurrentYear func() int
	Factory     core.RecordFactory
	RateLimit   ratelimit.Config
	Logger      *applog.Logger
}

func (o Options) withDefaults() Options {
	if o.SessionTTL <= 0 {
		o.SessionTTL = 30 * time.Minute
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = 1000
	}
	if o.CurrentYear == nil {
		o.CurrentYear = func() int { return time.Now().Year() }
	}
	if o.Logger == nil {
		o.Logger = applog.FromContext(context.Background())
	}
	return o
}

type Server struct {
	http.Server
	templates *template.Template
	backend   backend.Backend
	editor    *services.Editor
	sessions  *sessionRegistry
	caches    *cache.Manager
	limiter   *ratelimit.Limiter
	clientIP  *security.ClientIPResolver
	tracer    *trace.Middleware
	logger    *applog.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, be backend.Backend, opts Options) *Server {
	opts = opts.withDefaults()
	logger := opts.Logger.WithComponent(applog.ComponentHTTP)

	loader := services.NewSessionLoader(be, be, opts.Factory)
	s := &Server{
		backend:  be,
		editor:   services.NewEditor(loader, be, opts.CurrentYear),
		sessions: newSessionRegistry(opts.MaxSessions, opts.SessionTTL, opts.Logger),
		caches:   cache.NewManager(opts.Logger),
		limiter:  ratelimit.NewLimiter(opts.RateLimit),
		clientIP: security.NewClientIPResolver(),
		logger:   logger,
	}
	s.tracer = trace.NewMiddleware(logger, s.clientIP.ClientIP)

	s.caches.Register("sessions", s.sessions.sessions)
	s.caches.StartCleanup(cleanupInterval(opts.SessionTTL))

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", applog.FieldError, err)
	}
	s.templates = t

	mux := http.NewServeMux()

	if sub, err := appweb.Static(); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/years", s.handleListYears)
	api.HandleFunc("POST /api/sessions", s.handleOpenSession)
	api.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	api.HandleFunc("PUT /api/sessions/{id}/year", s.handleSelectYear)
	api.HandleFunc("PUT /api/sessions/{id}/months/{month}", s.handleSetMonth)
	api.HandleFunc("PUT /api/sessions/{id}/average", s.handleSetAverage)
	api.HandleFunc("GET /api/sessions/{id}/changes", s.handleChanges)
	api.HandleFunc("POST /api/sessions/{id}/save", s.handleSave)
	api.HandleFunc("POST /api/sessions/{id}/reset", s.handleReset)
	api.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)
	mux.Handle("/api/", security.NoStore(api))

	pages := http.NewServeMux()
	pages.HandleFunc("GET /{$}", s.handleIndex)
	pages.HandleFunc("POST /sessions", s.handleOpenEditor)
	pages.HandleFunc("GET /sessions/{id}", s.handleEditor)
	pages.HandleFunc("POST /sessions/{id}/values", s.handleEditorValues)
	pages.HandleFunc("POST /sessions/{id}/reset", s.handleEditorReset)
	mux.Handle("/", security.NoStore(pages))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limited := s.limiter.Middleware(s.clientIP.ClientIP, s.onRateLimited)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Handler(s.flagSuspicious(headers.Handler(limited(mux)))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func cleanupInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), 5*time.Minute)
}

// Shutdown stops background routines, closes open sessions and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
		s.caches.Stop()
		s.limiter.Stop()
		if n := s.sessions.size(); n > 0 {
			s.logger.Info("Discarding open editing sessions", "sessions", n)
		}
	})
	return shutdownErr
}

// OpenSessions returns the number of live editing sessions.
func (s *Server) OpenSessions() int {
	return s.sessions.size()
}

func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.clientIP.IsSuspicious(r) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				applog.FieldClientIP, s.clientIP.ClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(),
		"Rate limit exceeded",
		applog.FieldClientIP, s.clientIP.ClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later").Write(w)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.backend.(backend.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
