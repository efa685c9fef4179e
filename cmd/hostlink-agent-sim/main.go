// Command hostlink-agent-sim plays the agent side of the out-of-process
// pairing protocol for local development. It launches an application binary
// with the pairing environment, waits for it to come up on the assigned
// loopback port, and reverse-proxies inbound traffic to it with the pairing
// token and forwarded headers stamped on every request.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/pkg/hosting"
	"github.com/hostlink/go-hostlink/pkg/logging"
	"github.com/hostlink/go-hostlink/pkg/middleware"
)

var (
	appBinary = flag.String("app", "", "Path to the application binary to launch (required)")
	listen    = flag.String("listen", "127.0.0.1:8090", "Front address the simulator serves on")
	appPath   = flag.String("app-path", "/app", "Virtual path assigned to the application")
	user      = flag.String("user", "", "Authenticated user to assert on forwarded requests (empty for anonymous)")
	authModes = flag.String("auth-modes", "", "Semicolon-separated auth scheme list to advertise (empty to omit)")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()
	if *appBinary == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.NewLogger(logging.Config{Level: *logLevel, Format: "text"})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	token, err := middleware.GeneratePairingToken()
	if err != nil {
		logger.Fatal("Failed to generate pairing token", zap.Error(err))
	}

	port, err := freePort()
	if err != nil {
		logger.Fatal("Failed to pick a backend port", zap.Error(err))
	}

	cmd, err := launchApp(logger, port, token)
	if err != nil {
		logger.Fatal("Failed to launch application", zap.Error(err))
	}

	backend := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitHealthy(backend+*appPath+"/healthz", token, 10*time.Second); err != nil {
		_ = cmd.Process.Kill()
		logger.Fatal("Application never became healthy", zap.Error(err))
	}
	logger.Info("Application paired",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("backend", backend),
		zap.String("app_path", *appPath))

	proxy := newPairingProxy(backend, token, logger)
	srv := &http.Server{
		Addr:         *listen,
		Handler:      proxy,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Simulator listening", zap.String("address", *listen))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Simulator server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Simulator forced to shutdown", zap.Error(err))
	}

	stopApp(logger, cmd)
	logger.Info("Simulator exited")
}

// launchApp starts the application binary with the pairing environment the
// real agent would set.
func launchApp(logger *zap.Logger, port int, token string) (*exec.Cmd, error) {
	cmd := exec.Command(*appBinary)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, hosting.EnvPrefix+hosting.EnvPort+"="+strconv.Itoa(port))
	cmd.Env = append(cmd.Env, hosting.EnvPrefix+hosting.EnvAppPath+"="+*appPath)
	cmd.Env = append(cmd.Env, hosting.EnvPrefix+hosting.EnvToken+"="+token)
	if *authModes != "" {
		cmd.Env = append(cmd.Env, hosting.EnvPrefix+hosting.EnvAuthModes+"="+*authModes)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	logger.Info("Application launched",
		zap.String("binary", *appBinary),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", port))
	return cmd, nil
}

// stopApp sends SIGTERM and escalates to SIGKILL if the process does not
// exit within the grace period.
func stopApp(logger *zap.Logger, cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("Failed to signal application", zap.Error(err))
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		logger.Info("Application exited")
	case <-time.After(10 * time.Second):
		logger.Warn("Application did not exit, killing")
		_ = cmd.Process.Kill()
		<-done
	}
}

// waitHealthy polls the health endpoint until it answers 200 or the deadline
// passes.
func waitHealthy(healthURL, token string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for {
		req, err := http.NewRequest(http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set(middleware.DefaultPairingHeader, token)

		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("health check timed out: %w", err)
			}
			return fmt.Errorf("health check timed out: last status %d", resp.StatusCode)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// newPairingProxy builds the reverse proxy that stamps what the real agent
// stamps: the pairing token, forwarded client headers, a request ID, and the
// identity assertion when a user is configured.
func newPairingProxy(backend, token string, logger *zap.Logger) http.Handler {
	target, err := url.Parse(backend)
	if err != nil {
		logger.Fatal("Invalid backend URL", zap.Error(err))
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Header.Set(middleware.DefaultPairingHeader, token)
		req.Header.Set("X-Request-ID", uuid.NewString())

		if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
			prior := req.Header.Get("X-Forwarded-For")
			if prior != "" {
				host = prior + ", " + host
			}
			req.Header.Set("X-Forwarded-For", host)
		}
		req.Header.Set("X-Forwarded-Proto", "http")

		if *user != "" {
			scheme := firstScheme(*authModes)
			assertion, err := middleware.SignIdentityAssertion(*user, scheme, token)
			if err != nil {
				logger.Error("Failed to sign identity assertion", zap.Error(err))
				return
			}
			req.Header.Set(middleware.DefaultIdentityHeader, assertion)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("Proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}

// firstScheme picks the first non-anonymous scheme from the advertised list.
func firstScheme(modes string) string {
	for _, scheme := range strings.Split(modes, ";") {
		if scheme != "" && !strings.EqualFold(scheme, "anonymous") {
			return scheme
		}
	}
	return "Negotiate"
}

// freePort asks the kernel for an unused loopback port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
