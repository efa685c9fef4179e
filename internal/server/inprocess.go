package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/internal/bridge"
)

// InProcess serves requests dispatched over the agent conduit. The agent owns
// the transport; no listening socket is opened.
type InProcess struct {
	logger *zap.Logger
}

// NewInProcess creates the conduit-attached server.
func NewInProcess(logger *zap.Logger) *InProcess {
	return &InProcess{logger: logger}
}

// Start attaches the handler to the agent conduit.
func (s *InProcess) Start(h http.Handler) error {
	if err := bridge.Attach(h); err != nil {
		return err
	}
	s.logger.Info("Attached to agent conduit")
	return nil
}

// Shutdown detaches the handler. In-flight requests are the agent's to drain.
func (s *InProcess) Shutdown(ctx context.Context) error {
	bridge.Detach()
	return nil
}

// Addr returns the empty string: there is no listening address.
func (s *InProcess) Addr() string {
	return ""
}
