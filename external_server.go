package modtest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
)

// externalServer manages a spawned server executable. The process runs
// in its own process group so teardown can take any children down with
// it, and its stdout/stderr are forwarded to the context logger.
type externalServer struct {
	cfg     *ServerConfig
	cmd     *exec.Cmd
	logger  Logger
	url     string
	address string

	// waitErr receives the process's Wait result exactly once.
	waitErr chan error
	// pumps tracks the output forwarding goroutines; Stop and kill
	// wait for them so nothing logs after teardown returns.
	pumps sync.WaitGroup
}

// startExternalServer spawns the configured executable and blocks until
// its TCP listener accepts connections, the process exits, or the
// startup timeout passes. The chosen address is handed to the process
// through MODTEST_SERVER_ADDR and MODTEST_SERVER_PORT.
func startExternalServer(ctx context.Context, cfg *ServerConfig, logger Logger) (*externalServer, error) {
	if cfg.Executable == "" {
		return nil, ErrServerExecutableEmpty
	}

	port := cfg.Port
	if port == 0 {
		freed, err := freePort()
		if err != nil {
			return nil, err
		}
		port = freed
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	cmd := exec.Command(cfg.Executable, cfg.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", serverAddrEnvVar, address),
		fmt.Sprintf("%s=%d", serverPortEnvVar, port),
	)

	envKeys := make([]string, 0, len(cfg.Env))
	for key := range cfg.Env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, cfg.Env[key]))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting server executable %s: %w", cfg.Executable, err)
	}

	server := &externalServer{
		cfg:     cfg,
		cmd:     cmd,
		logger:  logger,
		url:     "http://" + address,
		address: address,
		waitErr: make(chan error, 1),
	}

	server.pumps.Add(2)
	go server.forward("stdout", stdout)
	go server.forward("stderr", stderr)
	go func() { server.waitErr <- cmd.Wait() }()

	logger.Debug("Spawned test server", "executable", cfg.Executable, "pid", cmd.Process.Pid, "address", address)

	if err := server.awaitReady(ctx); err != nil {
		server.kill()
		return nil, err
	}

	logger.Info("Test server ready", "executable", cfg.Executable, "address", address, "pid", cmd.Process.Pid)
	return server, nil
}

// forward streams one of the process's output pipes to the logger.
func (s *externalServer) forward(stream string, r io.Reader) {
	defer s.pumps.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("Server output", "stream", stream, "line", scanner.Text())
	}
}

// awaitReady polls the server's address until a TCP connection succeeds.
func (s *externalServer) awaitReady(ctx context.Context) error {
	timeout := s.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultServerStartupTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-s.waitErr:
			s.waitErr <- err
			return fmt.Errorf("%w: process exited during startup: %v", ErrServerNotReady, err)
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrServerNotReady, ctx.Err())
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", s.address, 250*time.Millisecond)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: no listener on %s after %s", ErrServerNotReady, s.address, timeout)
			}
		}
	}
}

func (s *externalServer) URL() string {
	return s.url
}

func (s *externalServer) Address() string {
	return s.address
}

// PID returns the process ID of the spawned server.
func (s *externalServer) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Stop terminates the process group: SIGTERM first, escalating to
// SIGKILL when the context expires before the process exits.
func (s *externalServer) Stop(ctx context.Context) error {
	if s.cmd.Process == nil {
		return nil
	}
	pid := s.cmd.Process.Pid

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("Signaling server process group failed", "pid", pid, "error", err)
	}

	select {
	case <-s.waitErr:
		s.pumps.Wait()
		s.logger.Debug("Test server exited", "pid", pid)
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn("Test server ignored SIGTERM, killing", "pid", pid)
	s.kill()
	return nil
}

// kill force-terminates the process group and reaps the process.
func (s *externalServer) kill() {
	if s.cmd.Process == nil {
		return
	}
	pid := s.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("Killing server process group failed", "pid", pid, "error", err)
	}
	<-s.waitErr
	s.pumps.Wait()
}
