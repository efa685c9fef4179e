// Package server provides the two server implementations the hosting
// bootstrap can select: a loopback HTTP server for out-of-process mode and a
// conduit-attached server for in-process mode.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Loopback serves the application over plain HTTP on a single address. When
// paired with an agent the address must be a loopback address; the agent is
// the only expected caller and nothing else should be able to reach the port.
type Loopback struct {
	rawURL          string
	requireLoopback bool
	logger          *zap.Logger

	srv *http.Server
	ln  net.Listener
}

// NewLoopback creates a server for the agent-assigned loopback address.
// Start fails if the address does not resolve to a loopback interface.
func NewLoopback(rawURL string, logger *zap.Logger) *Loopback {
	return &Loopback{rawURL: rawURL, requireLoopback: true, logger: logger}
}

// NewHTTP creates a server for a user-configured address with no loopback
// restriction. Used when the application runs standalone.
func NewHTTP(addr string, logger *zap.Logger) *Loopback {
	return &Loopback{rawURL: addr, logger: logger}
}

// Start binds the listener and begins serving. The bind happens
// synchronously so configuration errors surface at startup.
func (s *Loopback) Start(h http.Handler) error {
	addr, err := listenAddr(s.rawURL)
	if err != nil {
		return err
	}

	if s.requireLoopback {
		if err := checkLoopback(addr); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.ln = ln

	s.srv = &http.Server{
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts the server down.
func (s *Loopback) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound listener address, or the configured address before
// Start.
func (s *Loopback) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.rawURL
}

// listenAddr reduces a configured URL or host:port to a dialable address.
func listenAddr(rawURL string) (string, error) {
	addr := rawURL
	if strings.Contains(addr, "://") {
		if !strings.HasPrefix(addr, "http://") {
			return "", fmt.Errorf("unsupported listen URL %q: only http is served behind the agent", rawURL)
		}
		addr = strings.TrimPrefix(addr, "http://")
		addr = strings.TrimSuffix(addr, "/")
	}
	if addr == "" {
		return "", fmt.Errorf("empty listen address")
	}
	return addr, nil
}

// checkLoopback verifies the address binds a loopback interface.
func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("refusing to bind %q: paired applications must listen on loopback only", addr)
	}
	return nil
}
