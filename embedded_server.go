package modtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// RouteContributor lets a module mount HTTP routes on the context's
// in-process test server. Contributions are collected after module
// initialization, so handlers may close over injected services.
type RouteContributor interface {
	Routes(r chi.Router)
}

// embeddedServer is the in-process HTTP server behind WithServer: a chi
// router assembled from the modules' route contributions plus a health
// endpoint, listening on an ephemeral loopback port.
type embeddedServer struct {
	listener net.Listener
	server   *http.Server
	url      string
	logger   Logger
}

func startEmbeddedServer(app *StdApplication, cfg *ServerConfig, logger Logger) (*embeddedServer, error) {
	router := chi.NewRouter()

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	router.Get(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	})

	for _, module := range app.Modules() {
		if contributor, ok := module.(RouteContributor); ok {
			contributor.Routes(router)
			logger.Debug("Mounted module routes", "module", module.Name())
		}
	}

	address := "127.0.0.1:0"
	if cfg.Port > 0 {
		address = fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}

	server := &embeddedServer{
		listener: listener,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		url:    "http://" + listener.Addr().String(),
		logger: logger,
	}

	go func() {
		if err := server.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Test server stopped unexpectedly", "error", err)
		}
	}()

	logger.Debug("Test server listening", "url", server.url)
	return server, nil
}

func (s *embeddedServer) URL() string {
	return s.url
}

func (s *embeddedServer) Address() string {
	return s.listener.Addr().String()
}

// Stop drains in-flight requests and closes the listener.
func (s *embeddedServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
