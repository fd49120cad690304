package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-guest-auth/correlation"
	"github.com/jrsteele09/go-guest-auth/guestauth"
	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/jrsteele09/go-guest-auth/internal/config"
	"github.com/jrsteele09/go-guest-auth/profiles"
	"github.com/jrsteele09/go-guest-auth/ratelimit"
	"github.com/jrsteele09/go-guest-auth/server/authflowrepo"
	"github.com/jrsteele09/go-guest-auth/server/loginsession"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LinkMailer delivers redirect flow sign-in links by email.
type LinkMailer interface {
	SendSignInLink(ctx context.Context, to, link string, expiresAt time.Time) error
}

// Services are the collaborators the HTTP surface is built on.
type Services struct {
	Identity      *identity.Adapter
	Profiles      profiles.Collaborator
	Correlations  *correlation.Store
	LoginSessions loginsession.Repo
	AuthFlows     authflowrepo.Repo // defaults to process memory
	Limiter       ratelimit.Limiter
	Mailer        LinkMailer // optional, enables delivery=email
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	services Services
	machines *MachineRegistry
	gatherer prometheus.Gatherer
	nowFunc  func() time.Time
	logger   zerolog.Logger
}

type Option func(*Server)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

func New(cfg config.Config, services Services, options ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[server.New] config is required")
	}
	if services.Identity == nil {
		return nil, fmt.Errorf("[server.New] identity adapter is required")
	}
	if services.Profiles == nil {
		return nil, fmt.Errorf("[server.New] profile collaborator is required")
	}
	if services.Correlations == nil {
		return nil, fmt.Errorf("[server.New] correlation store is required")
	}
	if services.LoginSessions == nil {
		return nil, fmt.Errorf("[server.New] login session repo is required")
	}
	if services.AuthFlows == nil {
		services.AuthFlows = authflowrepo.NewCacheRepo(time.Minute)
	}
	if services.Limiter == nil {
		services.Limiter = ratelimit.Unlimited{}
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		services: services,
		gatherer: prometheus.DefaultGatherer,
		nowFunc:  time.Now,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}

	s.machines = NewMachineRegistry(cfg.GetMachineIdleTimeout(), s.newMachine)

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) newMachine() (*guestauth.Machine, error) {
	return guestauth.NewMachine(s.services.Identity, s.services.Profiles,
		guestauth.WithMaxAttempts(s.config.GetMaxOTPAttempts()),
		guestauth.WithLimiter(s.services.Limiter),
		guestauth.WithLogger(s.logger.With().Str("component", "guestauth").Logger()),
	)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Info().Msgf("[%-19s] %s", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
