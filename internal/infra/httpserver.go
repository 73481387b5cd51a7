package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server to provide graceful startup and shutdown helpers.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer builds the API server. The write timeout is raised when it
// would cut off a ?wait=true submission before SubmitWaitLimit.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{server: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

func writeTimeout(cfg *Config) time.Duration {
	floor := cfg.SubmitWaitLimit() + submitWaitSlack
	if cfg.HTTPWriteTimeout < floor {
		return floor
	}
	return cfg.HTTPWriteTimeout
}

// Addr is the listen address.
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// WriteTimeout is the effective per-response write deadline.
func (s *HTTPServer) WriteTimeout() time.Duration {
	return s.server.WriteTimeout
}

// Start runs the HTTP server in the current goroutine.
func (s *HTTPServer) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
