package hosting

import (
	"runtime"

	"github.com/hostlink/go-hostlink/internal/bridge"
)

// HostProbe detects whether the current process is hosted inside the agent
// and, if so, fetches the agent's view of the application. The decision logic
// takes a probe so tests can inject a fake.
type HostProbe interface {
	// Hosted is a point-in-time check with no side effects.
	Hosted() bool

	// Properties performs a single conduit call. A non-success status
	// aborts bootstrap; the call must not be retried.
	Properties() (bridge.AppProperties, error)
}

// platformProbe is the production probe. In-process hosting uses Go plugin
// loading, which the agent only supports on Linux.
type platformProbe struct{}

func (platformProbe) Hosted() bool {
	return runtime.GOOS == "linux" && bridge.Loaded()
}

func (platformProbe) Properties() (bridge.AppProperties, error) {
	return bridge.Properties()
}
