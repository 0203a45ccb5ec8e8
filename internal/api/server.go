package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/auth"
	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/internal/schedule"
	"github.com/juicebox-server/juicebox-service/internal/storage"
)

// SessionSource lists live device sessions. *session.Manager implements it.
type SessionSource interface {
	Sessions() []models.SessionInfo
}

// Planner exposes the charging plan. *reconciler.Reconciler implements it.
type Planner interface {
	Window() *schedule.Window
	Desired(now time.Time) models.CommandState
}

type contextKey struct{}

// claimsKey carries the validated JWT claims in the request context
var claimsKey = contextKey{}

// RESTServer represents the read-only status API
type RESTServer struct {
	config   *config.Config
	sessions SessionSource
	planner  Planner
	store    storage.Store
	auth     *auth.JWTManager
	router   chi.Router
	server   *http.Server
	now      func() time.Time
}

// NewRESTServer creates a new REST API server. store may be nil.
func NewRESTServer(cfg *config.Config, sessions SessionSource, planner Planner, store storage.Store) *RESTServer {
	s := &RESTServer{
		config:   cfg,
		sessions: sessions,
		planner:  planner,
		store:    store,
		auth:     auth.NewJWTManager(&cfg.API.JWT),
		router:   chi.NewRouter(),
		now:      time.Now,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the root HTTP handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Bool("auth", s.auth.Enabled()).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware; it passes everything
// through when no JWT secret is configured
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		// Get token from header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Validate token
		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs each request through zerolog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("API request")
	})
}
