package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"voicestream/internal/domain"
)

// Controller is the part of the voice controller exposed over HTTP.
type Controller interface {
	StartAudio(ctx context.Context) error
	StopAudio(closeConnection bool)
	Status() domain.Status
}

type Config struct {
	Addr      string
	AuthToken string
	// RateLimit is the number of start/stop requests allowed per client
	// per minute.
	RateLimit   int
	MetricsPath string
	Metrics     http.Handler
}

// Server is the HTTP boundary an external UI drives the controller through.
type Server struct {
	cfg         Config
	ctrl        Controller
	logger      *slog.Logger
	mux         *http.ServeMux
	rateLimiter *RateLimiter
}

func NewServer(cfg Config, ctrl Controller, logger *slog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	s := &Server{
		cfg:         cfg,
		ctrl:        ctrl,
		logger:      logger,
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(cfg.RateLimit, time.Minute),
	}
	// Rate limit and authenticate the routes that change state
	s.mux.HandleFunc("POST /start", s.rateLimiter.Middleware(s.authorize(s.handleStart)))
	s.mux.HandleFunc("POST /stop", s.rateLimiter.Middleware(s.authorize(s.handleStop)))
	s.mux.HandleFunc("GET /status", s.authorize(s.handleStatus))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, cfg.Metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	server := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving control api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	return nil
}

func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			// Check header first
			token := r.Header.Get("X-Auth-Token")
			// If not in header, check query parameter
			if token == "" {
				token = r.URL.Query().Get("token")
			}

			if token != s.cfg.AuthToken {
				s.logger.Warn("unauthorized control request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.StartAudio(r.Context())
	switch {
	case err == nil:
		s.writeStatus(w, http.StatusAccepted)
	case errors.Is(err, domain.ErrNotReady):
		http.Error(w, "not ready, try again", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrDeviceUnavailable):
		s.logger.Warn("start rejected", "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("starting audio", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	closeConnection := true
	if v := r.URL.Query().Get("close"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "close must be true or false", http.StatusBadRequest)
			return
		}
		closeConnection = b
	}

	s.ctrl.StopAudio(closeConnection)
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Status()

	status := "ok"
	statusCode := http.StatusOK
	if st.Loading {
		status = "loading"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"status":"%s","playing":%t,"websocket_ready":%t}`, status, st.Playing, st.WebSocketReady)
}

func (s *Server) writeStatus(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(s.ctrl.Status()); err != nil {
		s.logger.Warn("writing status", "error", err)
	}
}
