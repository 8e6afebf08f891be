// Package agent serves the bridge's control commands over HTTPS with mutual
// TLS, and provides a client for them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Server is the control agent's HTTPS server
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *log.Logger
}

// NewServer creates a new agent server. A nil logger logs to stdout, or to
// config.LogFile when set.
func NewServer(config Config, backend Backend, logger *log.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if backend.Engine == nil {
		return nil, errors.New("invalid configuration: no engine")
	}

	tlsConfig, err := config.LoadTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS config: %w", err)
	}
	if logger == nil {
		if logger, err = openLog(config.LogFile); err != nil {
			return nil, err
		}
	}

	s := &Server{config: config, logger: logger}
	s.handler = s.routes(backend)
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:      s.handler,
		TLSConfig:    tlsConfig,
		ErrorLog:     logger,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: DefaultCommandTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// openLog returns a logger writing to path, or to stdout when path is empty
func openLog(path string) (*log.Logger, error) {
	out := io.Writer(os.Stdout)
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	return log.New(out, "[agent] ", log.LstdFlags), nil
}

// NewHandler returns the agent's routes without TLS, for embedding or tests
func NewHandler(backend Backend, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{logger: logger}
	return s.routes(backend)
}

func (s *Server) routes(backend Backend) http.Handler {
	h := &handlers{Backend: backend}

	mux := http.NewServeMux()
	for path, fn := range map[string]http.HandlerFunc{
		"/health":      healthHandler,
		"/sysinfo":     sysinfoHandler,
		"/timing":      h.getTiming,
		"/source":      h.getSource,
		"/probe":       h.probe,
		"/mode":        h.mode,
		"/sync":        h.commitSync,
		"/autoprobe":   h.autoprobe,
		"/diagnostics": h.diagnostics,
		"/history":     h.history,
		"/jobs":        h.jobs,
	} {
		mux.HandleFunc(path, fn)
	}
	return s.logRequests(mux)
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called. The certificates come from the
// TLS config, so none are passed to ListenAndServeTLS.
func (s *Server) Start() error {
	s.logger.Printf("Listening on %s (mTLS)", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for those in flight
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Println("Shutting down")
	return s.httpServer.Shutdown(ctx)
}

// logRequests logs every request with the client certificate's common name
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		client := "-"
		if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			client = r.TLS.PeerCertificates[0].Subject.CommonName
		}
		s.logger.Printf("%s %s %d client=%q from %s in %s",
			r.Method, r.URL.RequestURI(), rec.status, client, r.RemoteAddr, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
