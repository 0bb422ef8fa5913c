// Package dashboard serves the orchestrator's views as a JSON API.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/mailroom/internal/orchestrator"
)

const (
	defaultPort         = 8787
	defaultPollInterval = 3 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Orchestrator *orchestrator.Orchestrator
	Port         int
	Out          io.Writer
	// PollInterval paces the event stream. Zero means three seconds.
	PollInterval time.Duration
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Orchestrator == nil {
		return fmt.Errorf("dashboard: orchestrator is required")
	}
	if opts.Port <= 0 {
		opts.Port = defaultPort
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts.Orchestrator, opts.PollInterval),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every dashboard route registered.
func NewRouter(o *orchestrator.Orchestrator, poll time.Duration) *gin.Engine {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, o, poll)
	return router
}
