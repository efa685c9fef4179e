package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/internal/demo"
	"github.com/hostlink/go-hostlink/pkg/config"
	"github.com/hostlink/go-hostlink/pkg/hosting"
)

// TestStandaloneHostNeedsNoToken verifies the same application code runs
// unpaired: no agent environment, the configured address is used, and no
// pairing token is required.
func TestStandaloneHostNeedsNoToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, key := range []string{hosting.EnvPort, hosting.EnvAppPath, hosting.EnvToken, hosting.EnvAuthModes} {
		t.Setenv(hosting.EnvPrefix+key, "")
	}

	logger := zap.NewNop()
	b := hosting.NewBuilder(logger)
	b.SetAddr("127.0.0.1:0")
	if err := hosting.Activate(b); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	cfg := &config.Config{App: config.AppConfig{Name: "hostlink-demo"}}
	handlers := demo.NewHandlers(cfg, logger)
	host := b.Build(func(r *gin.Engine) {
		handlers.Register(r, "/")
	})

	if err := host.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = host.Shutdown(ctx)
	})

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + host.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 without any token", resp.StatusCode)
	}
}
