// Package annoserver is a reference library server for development and integration tests.
// It serves the patron profile, token exchange, an OAuth-style redirect sign-in, sign-out,
// and the annotations endpoint with paginated first.items collections.
package annoserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/listenup-sync/internal/auth"
	"github.com/listenupapp/listenup-sync/internal/http/response"
	"github.com/listenupapp/listenup-sync/internal/logger"
)

// Routes served relative to the server root.
const (
	PathProfile     = "/patrons/me"
	PathToken       = "/token"
	PathSignOut     = "/signout"
	PathAuthorize   = "/oauth/authorize"
	PathAnnotations = "/annotations/"
)

// Config configures a Server.
type Config struct {
	LibraryID string
	// PublicURL is the externally visible base URL. Empty derives it from each request.
	PublicURL      string
	AllowedOrigins []string
	// Middleware wraps every route, e.g. request metrics.
	Middleware []func(http.Handler) http.Handler
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	cfg         Config
	patrons     *Directory
	annotations *AnnotationStore
	tokens      *auth.TokenService
	revoked     *revocationList
	router      *chi.Mux
	now         func() time.Time
	logger      *slog.Logger
}

// NewServer creates a server with all routes configured.
func NewServer(cfg Config, patrons *Directory, annotations *AnnotationStore, tokens *auth.TokenService, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		cfg:         cfg,
		patrons:     patrons,
		annotations: annotations,
		tokens:      tokens,
		revoked:     newRevocationList(),
		router:      chi.NewRouter(),
		now:         time.Now,
		logger:      log,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger(s.logger))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	for _, mw := range s.cfg.Middleware {
		s.router.Use(mw)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.Success(w, map[string]string{"status": "healthy"}, s.logger)
	})

	s.router.Post(PathToken, s.handleToken)
	s.router.Get(PathAuthorize, s.handleAuthorize)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requirePatron)

		r.Get(PathProfile, s.handleGetProfile)
		r.Put(PathProfile, s.handleUpdateProfile)
		r.Get(PathSignOut, s.handleSignOut)

		r.Route(strings.TrimSuffix(PathAnnotations, "/"), func(r chi.Router) {
			r.Get("/", s.handleListAnnotations)
			r.Post("/", s.handleCreateAnnotation)
			r.Delete("/{id}", s.handleDeleteAnnotation)
		})
	})
}

// baseURL is the public root used in links and annotation IDs.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimSuffix(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// requestLogger logs one line per request with the chi route pattern.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			pattern := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				pattern = rctx.RoutePattern()
			}
			log.Debug("request",
				"method", r.Method,
				"route", pattern,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const contextKeyPatron contextKey = "patron"

// requirePatron authenticates with HTTP basic (barcode and PIN) or a bearer token issued by
// this server, and attaches the patron to the request context.
func (s *Server) requirePatron(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		patron, err := s.authenticate(r)
		if err != nil {
			s.logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			response.InvalidCredentials(w, "Invalid or expired credentials.", s.logger)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyPatron, patron)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(r *http.Request) (*Patron, error) {
	if barcode, pin, ok := r.BasicAuth(); ok {
		return s.patrons.Authenticate(barcode, pin)
	}

	token, ok := bearerToken(r)
	if !ok {
		return nil, ErrUnauthenticated
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.LibraryID != s.cfg.LibraryID || s.revoked.Contains(claims.TokenID, s.now()) {
		return nil, ErrUnauthenticated
	}
	return s.patrons.Get(claims.Barcode)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// patronFrom returns the authenticated patron. requirePatron guarantees one.
func patronFrom(ctx context.Context) *Patron {
	p, _ := ctx.Value(contextKeyPatron).(*Patron)
	return p
}
