package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/boxchat/authd/internal/common/constants"
	"github.com/boxchat/authd/internal/common/logger"
)

func New(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
		ReadTimeout:       constants.ServerReadTimeout,
		WriteTimeout:      constants.ServerWriteTimeout,
		IdleTimeout:       constants.ServerIdleTimeout,
	}
}

// StartWithGracefulShutdown serves until SIGINT/SIGTERM, then drains
// in-flight requests before returning.
func StartWithGracefulShutdown(server *http.Server, log *logger.Logger) {
	go func() {
		log.Infof("authd listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	server.SetKeepAlivesEnabled(false)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("forced shutdown: %v", err)
	} else {
		log.Info("stopped gracefully")
	}
}
