package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const shutdownTimeout = 10 * time.Second

// NewMux routes POST /webhook to handler; other methods on that path get 405.
func NewMux(handler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /webhook", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type Server struct {
	httpServer *http.Server
	handler    *Handler
	logger     *slog.Logger
}

func NewServer(host string, port int, handler *Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:           NewMux(handler),
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: handler,
		logger:  logger,
	}
}

// Run serves until ctx is done, then drains in-flight requests. A sync that
// outlives the drain timeout is still waited for, so the process never exits
// in the middle of a pull.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Webhook server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutdown signal received. Draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil && !errors.Is(shutdownErr, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shut down: %w", shutdownErr)
	}
	if shutdownErr != nil {
		s.logger.Warn("Drain timed out, waiting for the running sync to finish")
	}
	s.handler.Wait()
	s.logger.Info("Webhook server stopped")
	return nil
}
