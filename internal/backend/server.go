package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ServerManager manages sidecar inference server processes.
type ServerManager struct {
	servers map[string]*ServerProcess
	mu      sync.RWMutex
}

// ServerProcess represents a server running process.
type ServerProcess struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	baseURL string
}

// ServerConfig defines how to start and check a backend server.
type ServerConfig struct {
	Env          map[string]string
	Name         string
	BinPath      string
	HealthPath   string
	Args         []string
	Port         int
	ReadyTimeout time.Duration
}

// NewServerManager initializes a ServerManager.
func NewServerManager() *ServerManager {
	return &ServerManager{
		servers: map[string]*ServerProcess{},
	}
}

// StartServer starts a backend server and blocks until its health endpoint answers 200.
// It returns the base URL of the server. Starting a server that is already running is a no-op.
func (sm *ServerManager) StartServer(ctx context.Context, cfg ServerConfig) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := serverKey(cfg.Name, cfg.Port)
	if srv, exists := sm.servers[key]; exists {
		return srv.baseURL, nil
	}

	path, err := exec.LookPath(cfg.BinPath)
	if err != nil {
		return "", fmt.Errorf("manager: failed to start %s server: %w", cfg.Name, err)
	}

	// The process outlives ctx, which only bounds the readiness wait.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, path, cfg.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	// Apply environment variables if provided
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("manager: failed to start %s server: %w", cfg.Name, err)
	}

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)

	timeout := cfg.ReadyTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	if err := WaitReady(ctx, baseURL+healthPath(cfg.HealthPath), timeout); err != nil {
		cancel()
		if err := cmd.Process.Kill(); err != nil {
			slog.Error("Failed to kill server process", "error", err)
		}
		_ = cmd.Wait()
		return "", fmt.Errorf("manager: %s server did not become ready: %w", cfg.Name, err)
	}

	sm.servers[key] = &ServerProcess{
		cmd:     cmd,
		cancel:  cancel,
		baseURL: baseURL,
	}

	slog.Info("Server started", "name", cfg.Name, "port", cfg.Port, "pid", cmd.Process.Pid)
	return baseURL, nil
}

// StopServer terminates a backend server.
func (sm *ServerManager) StopServer(name string, port int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := serverKey(name, port)
	srv, exists := sm.servers[key]
	if !exists {
		return fmt.Errorf("server %s not found", key)
	}

	sm.stop(srv)
	delete(sm.servers, key)

	slog.Info("Server stopped", "name", name, "port", port)
	return nil
}

// Running reports whether a server is registered under name and port.
func (sm *ServerManager) Running(name string, port int) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, ok := sm.servers[serverKey(name, port)]
	return ok
}

// StopAll terminates all running servers.
func (sm *ServerManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, srv := range sm.servers {
		sm.stop(srv)
	}
	sm.servers = map[string]*ServerProcess{}

	slog.Info("All servers stopped")
}

func (sm *ServerManager) stop(srv *ServerProcess) {
	srv.cancel()
	if err := srv.cmd.Process.Kill(); err != nil {
		slog.Error("Failed to kill server process", "error", err)
	}
	_ = srv.cmd.Wait()
}

// WaitReady polls url until it answers 200, timeout elapses or ctx is done.
func WaitReady(ctx context.Context, url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 1 * time.Second}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return fmt.Errorf("manager: server failed to respond at %s within %v", url, timeout)
}

func healthPath(p string) string {
	if p == "" {
		return "/health"
	}
	return p
}

func serverKey(name string, port int) string {
	return fmt.Sprintf("%s-%d", name, port)
}
