// Package server wires the HTTP API onto a gin engine and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"calc-tracker/internal/auth"
	"calc-tracker/internal/calculator"
	"calc-tracker/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Deps are the collaborators the routes need.
type Deps struct {
	DB     *gorm.DB
	Auth   *auth.Service
	Logger zerolog.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger.GetLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logging.Component(deps.Logger, "http")
	engine := gin.New()
	engine.Use(Recovery(log), RequestID(), RequestLogger(log))

	health := Health(deps.DB)
	engine.GET("/", health)
	engine.GET("/health", health)

	api := engine.Group("/api/v1")
	api.POST("/register", auth.RegisterHandler(deps.Auth))
	api.POST("/login", auth.LoginHandler(deps.Auth))

	protected := api.Group("", auth.Middleware(deps.Auth))
	calculator.NewHandler(calculator.NewService(deps.DB)).Register(protected)

	return engine
}

// Server serves the router on one address.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

func New(addr string, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: logging.Component(log, "server"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Run binds the address and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.log.Info().Str("addr", listener.Addr().String()).Msg("HTTP server started")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	s.log.Info().Msg("HTTP server shut down successfully")
	return nil
}
