package httpserver

import (
	"net/http"
	"time"

	"faceauth/internal/platform/config"
)

// New builds the HTTP server. Probe uploads are bounded by the handlers, so
// body reads get a longer deadline than headers.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    32 << 10,
	}
}
