// Package api exposes the operator surface over HTTP: statistics, the
// recent-attack log, config get/replace, a live websocket feed, and the
// health and metrics endpoints. The router is wrapped in a middleware
// chain providing request logging and panic recovery.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/carbocation/interpose"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/geoip"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/honeypot"
)

// AuthConfig configures bearer-token auth for the /api/v1 routes. With
// an empty PasswordHash the API runs open, for localhost-only setups.
type AuthConfig struct {
	Username     string        `toml:"username" json:"username"`
	PasswordHash string        `toml:"passwordHash" json:"-"`
	JWTSecret    string        `toml:"jwtSecret" json:"-"`
	TokenTTL     time.Duration `toml:"tokenTTL" json:"tokenTTL"`
}

// Config holds the API server settings.
type Config struct {
	Enabled bool       `toml:"enabled" json:"enabled"`
	Bind    string     `toml:"bind" json:"bind"`
	Auth    AuthConfig `toml:"auth" json:"auth"`
}

// DefaultConfig binds the API to localhost next to the emulated ports.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Bind:    "127.0.0.1:8081",
		Auth: AuthConfig{
			Username: "admin",
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Server is the operator HTTP server.
type Server struct {
	config   Config
	logger   *logrus.Logger
	engine   *honeypot.Honeypot
	pipeline *attacklog.Pipeline
	resolver *geoip.Resolver

	jwtSecret  []byte
	hub        *hub
	middleware *interpose.Middleware
	router     *mux.Router
	srv        *http.Server
}

// NewServer wires the operator surface. The health handler is mounted as
// given; pass the handler from pkg/health.
func NewServer(config Config, engine *honeypot.Honeypot, pipeline *attacklog.Pipeline, resolver *geoip.Resolver, healthHandler http.Handler, logger *logrus.Logger) *Server {
	s := &Server{
		config:   config,
		logger:   logger,
		engine:   engine,
		pipeline: pipeline,
		resolver: resolver,
		hub:      newHub(logger),
	}

	if config.Auth.PasswordHash != "" {
		s.jwtSecret = []byte(config.Auth.JWTSecret)
		if len(s.jwtSecret) == 0 {
			s.jwtSecret = []byte(uuid.NewString())
			logger.Warn("No JWT secret configured, generated an ephemeral one; tokens will not survive a restart")
		}
	}

	s.router = mux.NewRouter()
	s.registerRoutes(healthHandler)

	s.middleware = interpose.New()
	s.middleware.Use(loggingMiddleware(logger))
	s.middleware.Use(recoveryMiddleware(logger))
	s.middleware.UseHandler(s.router)

	pipeline.AddSink(s.feedRecord)
	return s
}

func (s *Server) registerRoutes(healthHandler http.Handler) {
	// Login sits outside the guarded subrouter.
	s.router.HandleFunc("/api/v1/login", s.handleLogin).Methods("POST")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/stats/reset", s.handleStatsReset).Methods("POST")
	api.HandleFunc("/attacks", s.handleAttacks).Methods("GET")
	api.HandleFunc("/attacks", s.handleAttacksClear).Methods("DELETE")
	api.HandleFunc("/config", s.handleConfigGet).Methods("GET")
	api.HandleFunc("/config", s.handleConfigPut).Methods("PUT")

	s.router.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.router.Handle("/health", healthHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.middleware
}

// Start begins serving in the background. Errors after startup are
// logged, not returned.
func (s *Server) Start() error {
	if s.srv != nil {
		return fmt.Errorf("api server already started")
	}
	s.srv = &http.Server{
		Addr:         s.config.Bind,
		Handler:      s.middleware,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ln, err := net.Listen("tcp", s.config.Bind)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.config.Bind, err)
	}

	go func() {
		s.logger.WithField("addr", s.config.Bind).Info("API server listening")
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("API server error")
		}
	}()
	return nil
}

// Shutdown stops the server and disconnects feed clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection through
// the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func loggingMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   wrapped.statusCode,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("Request completed")
		})
	}
}

func recoveryMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithFields(logrus.Fields{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
