package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CreateServer creates an HTTP server for handler on addr. WriteTimeout is
// left unset because websocket connections outlive any single write window.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens until the server is shut down. A clean shutdown is not
// reported as an error.
func StartServer(srv *http.Server, logger *zap.Logger) error {
	logger.Info("http_listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting requests and waits for in-flight ones, up
// to timeout.
func ShutdownServer(srv *http.Server, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("http_shutdown_started")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http_shutdown_failed", zap.Error(err))
		return err
	}

	logger.Info("http_shutdown_completed")
	return nil
}
