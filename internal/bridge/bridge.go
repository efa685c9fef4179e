// Package bridge defines the in-memory conduit between the HostLink agent and
// an application it has loaded in-process. The agent registers a Conduit when
// it loads the application plugin; the hosting bootstrap queries it once for
// the agent's view of the application, and the in-process server attaches the
// request handler to it instead of opening a listening socket.
package bridge

import (
	"fmt"
	"net/http"
	"sync"
)

// AppProperties is the agent's view of a hosted application, filled by a
// single conduit call during bootstrap.
type AppProperties struct {
	// PhysicalPath is the full filesystem path of the application root.
	PhysicalPath string
	// VirtualPath is the path prefix the agent routes to this application.
	VirtualPath string
	// NegotiateAuth reports whether the agent performs Negotiate/NTLM
	// authentication before forwarding requests.
	NegotiateAuth bool
	// BasicAuth reports whether the agent performs Basic authentication
	// before forwarding requests.
	BasicAuth bool
}

// Status codes returned by conduit calls.
const (
	StatusOK uint32 = iota
	StatusNotLoaded
	StatusConfigMissing
	StatusHandshakeFailed
	StatusAlreadyAttached
	StatusInternal
)

var statusText = map[uint32]string{
	StatusOK:              "ok",
	StatusNotLoaded:       "agent conduit not loaded in this process",
	StatusConfigMissing:   "agent has no configuration for this application",
	StatusHandshakeFailed: "agent handshake failed",
	StatusAlreadyAttached: "a handler is already attached to the conduit",
	StatusInternal:        "internal agent error",
}

// HostError translates a non-success conduit status into a Go error.
type HostError struct {
	Code uint32
}

func (e *HostError) Error() string {
	desc, ok := statusText[e.Code]
	if !ok {
		desc = "unknown agent status"
	}
	return fmt.Sprintf("hostlink bridge: %s (status 0x%02x)", desc, e.Code)
}

// Conduit is the agent-side contract. The agent supplies an implementation
// when it loads the application in-process.
type Conduit interface {
	// AppProperties returns the agent's configuration for this application
	// together with a status code. StatusOK means the properties are valid.
	AppProperties() (AppProperties, uint32)

	// Attach hands the application's request handler to the agent for
	// in-memory dispatch.
	Attach(h http.Handler) uint32

	// Detach removes the previously attached handler.
	Detach()
}

var (
	mu      sync.RWMutex
	conduit Conduit
)

// Register installs the agent conduit for this process. Called by the agent
// before the application's bootstrap runs.
func Register(c Conduit) {
	mu.Lock()
	defer mu.Unlock()
	conduit = c
}

// Deregister removes the conduit. Used by the agent on unload and by tests.
func Deregister() {
	mu.Lock()
	defer mu.Unlock()
	conduit = nil
}

// Loaded reports whether an agent conduit is registered in this process.
func Loaded() bool {
	mu.RLock()
	defer mu.RUnlock()
	return conduit != nil
}

func current() Conduit {
	mu.RLock()
	defer mu.RUnlock()
	return conduit
}

// Properties performs the one-shot property fetch against the conduit.
// A non-success status is returned as a *HostError. Callers must not retry.
func Properties() (AppProperties, error) {
	c := current()
	if c == nil {
		return AppProperties{}, &HostError{Code: StatusNotLoaded}
	}
	props, code := c.AppProperties()
	if code != StatusOK {
		return AppProperties{}, &HostError{Code: code}
	}
	return props, nil
}

// Attach hands the request handler to the agent.
func Attach(h http.Handler) error {
	c := current()
	if c == nil {
		return &HostError{Code: StatusNotLoaded}
	}
	if code := c.Attach(h); code != StatusOK {
		return &HostError{Code: code}
	}
	return nil
}

// Detach removes the attached handler, if any.
func Detach() {
	if c := current(); c != nil {
		c.Detach()
	}
}
