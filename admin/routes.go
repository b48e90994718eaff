package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the status API
func NewRouter(config cfg.HTTPConfiguration, handlers *Handlers) (http.Handler, error) {
	limiter, err := NewRateLimiter(config.RatePerSecond, config.Burst)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(limiter.Handler)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(config.Secret))
		r.Get("/config", handlers.handleConfig)
		r.Get("/lag", handlers.handleLag)
		r.Get("/status", handlers.handleStatus)
	})

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, "not found")
	})

	return r, nil
}

// Server runs the status API in the background
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan error
}

// Start listens on the configured address and serves until Shutdown
func Start(config cfg.HTTPConfiguration, provider StatusProvider) (*Server, error) {
	router, err := NewRouter(config, NewHandlers(provider))
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(config.Address, strconv.Itoa(config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan error, 1),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	log.Info().Str("address", ln.Addr().String()).Msg("Status API listening")
	return s, nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
