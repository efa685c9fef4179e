package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/internal/demo"
	"github.com/hostlink/go-hostlink/pkg/config"
	"github.com/hostlink/go-hostlink/pkg/hosting"
	"github.com/hostlink/go-hostlink/pkg/middleware"
)

// testToken is a fixed pairing token for the harness. Real deployments get a
// random one from the agent.
const testToken = "1f6e3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f"

// HostHarness runs a complete paired application: the agent environment is
// set, the bootstrap resolves out-of-process mode, and the built host serves
// on the assigned loopback port.
type HostHarness struct {
	T       *testing.T
	Builder *hosting.Builder
	Host    *hosting.Host
	Token   string
	AppPath string

	// BaseURL is the agent-assigned loopback address the host listens on
	BaseURL string

	// Client is a pre-configured HTTP client for making requests
	Client *http.Client
}

// HarnessOption configures the harness before activation
type HarnessOption func(*HostHarness)

// WithAuthModes advertises an authentication scheme list in the pairing
// environment.
func WithAuthModes(modes string) HarnessOption {
	return func(h *HostHarness) {
		h.T.Setenv(hosting.EnvPrefix+hosting.EnvAuthModes, modes)
	}
}

// NewPairedHarness builds and starts a host paired through the environment,
// the way an agent-launched process would come up.
func NewPairedHarness(t *testing.T, opts ...HarnessOption) *HostHarness {
	t.Helper()

	gin.SetMode(gin.TestMode)

	h := &HostHarness{
		T:       t,
		Token:   testToken,
		AppPath: "/app",
		Client:  &http.Client{Timeout: 5 * time.Second},
	}

	port := freePort(t)
	t.Setenv(hosting.EnvPrefix+hosting.EnvPort, strconv.Itoa(port))
	t.Setenv(hosting.EnvPrefix+hosting.EnvAppPath, h.AppPath)
	t.Setenv(hosting.EnvPrefix+hosting.EnvToken, h.Token)
	t.Setenv(hosting.EnvPrefix+hosting.EnvAuthModes, "")

	for _, opt := range opts {
		opt(h)
	}

	logger := zap.NewNop()
	h.Builder = hosting.NewBuilder(logger)
	if err := hosting.Activate(h.Builder); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	cfg := &config.Config{App: config.AppConfig{Name: "hostlink-demo"}}
	handlers := demo.NewHandlers(cfg, logger)

	h.Host = h.Builder.Build(func(r *gin.Engine) {
		handlers.Register(r, h.Builder.Setting(hosting.SettingAppPath))
	})

	if err := h.Host.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.BaseURL = "http://" + h.Host.Addr()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Host.Shutdown(ctx)
	})

	return h
}

// GET makes an unauthenticated GET request
func (h *HostHarness) GET(path string) *Response {
	return h.Request(http.MethodGet, path, nil, nil)
}

// PairedGET makes a GET request carrying the pairing token
func (h *HostHarness) PairedGET(path string) *Response {
	return h.Request(http.MethodGet, path, nil, map[string]string{
		middleware.DefaultPairingHeader: h.Token,
	})
}

// PairedPOST makes a POST request carrying the pairing token
func (h *HostHarness) PairedPOST(path string, body interface{}) *Response {
	return h.Request(http.MethodPost, path, body, map[string]string{
		middleware.DefaultPairingHeader: h.Token,
	})
}

// Request makes an HTTP request to the paired host
func (h *HostHarness) Request(method, path string, body interface{}, headers map[string]string) *Response {
	h.T.Helper()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			h.T.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, h.BaseURL+path, bodyReader)
	if err != nil {
		h.T.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return h.Do(req)
}

// Do executes an HTTP request and returns a Response wrapper
func (h *HostHarness) Do(req *http.Request) *Response {
	h.T.Helper()

	resp, err := h.Client.Do(req)
	if err != nil {
		h.T.Fatalf("Request failed: %v", err)
	}

	return &Response{T: h.T, Response: resp}
}

// Response wraps an HTTP response with assertion helpers
type Response struct {
	T        *testing.T
	Response *http.Response
	body     []byte
	bodyRead bool
}

// Body returns the response body as bytes
func (r *Response) Body() []byte {
	r.T.Helper()
	if !r.bodyRead {
		var err error
		r.body, err = io.ReadAll(r.Response.Body)
		if err != nil {
			r.T.Fatalf("Failed to read response body: %v", err)
		}
		_ = r.Response.Body.Close()
		r.bodyRead = true
	}
	return r.body
}

// Status asserts the response status code
func (r *Response) Status(want int) *Response {
	r.T.Helper()
	if r.Response.StatusCode != want {
		r.T.Fatalf("Status = %d, want %d\nBody: %s", r.Response.StatusCode, want, string(r.Body()))
	}
	return r
}

// JSON unmarshals the response body into the given target
func (r *Response) JSON(target interface{}) *Response {
	r.T.Helper()
	if err := json.Unmarshal(r.Body(), target); err != nil {
		r.T.Fatalf("Failed to unmarshal response: %v\nBody: %s", err, string(r.Body()))
	}
	return r
}

// BodyContains asserts the response body contains the given substring
func (r *Response) BodyContains(substr string) *Response {
	r.T.Helper()
	if !strings.Contains(string(r.Body()), substr) {
		r.T.Fatalf("Body does not contain %q\nBody: %s", substr, string(r.Body()))
	}
	return r
}

// freePort asks the kernel for an unused loopback port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to pick a free port: %v", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}
