package modtest

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// serverSection is the config section the harness registers for its
// test-server settings, fed from the modtest.server.* property keys.
const serverSection = "modtest.server"

// Environment variables handed to spawned server executables.
const (
	serverAddrEnvVar = "MODTEST_SERVER_ADDR"
	serverPortEnvVar = "MODTEST_SERVER_PORT"
)

// Server defaults.
const (
	DefaultServerStartupTimeout  = 20 * time.Second
	DefaultServerShutdownTimeout = 10 * time.Second
	DefaultHealthPath            = "/healthz"
)

// ServerConfig configures the context's test server, fed from the
// modtest.server.* properties. Three modes, most specific wins:
//
//   - URL set: an already-running server is used as-is, unmanaged.
//   - Executable set: the binary is spawned, handed its address through
//     MODTEST_SERVER_ADDR and MODTEST_SERVER_PORT, and awaited until its
//     TCP listener accepts. The executable must honor the handed address
//     or be configured with the same fixed Port.
//   - Neither set: WithServer runs the in-process server.
type ServerConfig struct {
	Executable      string            `yaml:"executable" json:"executable" toml:"executable" env:"MODTEST_SERVER_EXECUTABLE"`
	Args            []string          `yaml:"args" json:"args" toml:"args"`
	Env             map[string]string `yaml:"env" json:"env" toml:"env"`
	Port            int               `yaml:"port" json:"port" toml:"port" env:"MODTEST_SERVER_PORT"`
	URL             string            `yaml:"url" json:"url" toml:"url" env:"MODTEST_SERVER_URL"`
	Address         string            `yaml:"address" json:"address" toml:"address"`
	StartupTimeout  time.Duration     `yaml:"startupTimeout" json:"startupTimeout" toml:"startupTimeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdownTimeout" json:"shutdownTimeout" toml:"shutdownTimeout"`
	HealthPath      string            `yaml:"healthPath" json:"healthPath" toml:"healthPath"`
	HealthSchedule  string            `yaml:"healthSchedule" json:"healthSchedule" toml:"healthSchedule"`
}

// newServerConfig creates a ServerConfig with defaults applied, ready to
// be overridden by the fed properties.
func newServerConfig(startupTimeout time.Duration) *ServerConfig {
	cfg := &ServerConfig{
		StartupTimeout:  DefaultServerStartupTimeout,
		ShutdownTimeout: DefaultServerShutdownTimeout,
		HealthPath:      DefaultHealthPath,
	}
	if startupTimeout > 0 {
		cfg.StartupTimeout = startupTimeout
	}
	return cfg
}

// healthEndpoint joins a base URL with the configured health path.
func (c *ServerConfig) healthEndpoint(baseURL string) string {
	path := c.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(baseURL, "/") + path
}

// serverHandle is the lifecycle the context holds on whichever server
// mode is active.
type serverHandle interface {
	URL() string
	Address() string
	Stop(ctx context.Context) error
}

// unmanagedServer wraps an externally managed URL; Stop leaves the
// server running.
type unmanagedServer struct {
	url     string
	address string
}

func newUnmanagedServer(rawURL string) *unmanagedServer {
	address := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		address = parsed.Host
	}
	return &unmanagedServer{url: strings.TrimRight(rawURL, "/"), address: address}
}

func (s *unmanagedServer) URL() string     { return s.url }
func (s *unmanagedServer) Address() string { return s.address }

func (s *unmanagedServer) Stop(_ context.Context) error { return nil }

// freePort asks the kernel for an unused loopback port.
func freePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("reserving port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		return 0, fmt.Errorf("releasing reserved port: %w", err)
	}
	return port, nil
}
