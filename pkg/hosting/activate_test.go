package hosting

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/internal/bridge"
	"github.com/hostlink/go-hostlink/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProbe struct {
	hosted bool
	props  bridge.AppProperties
	err    error
}

func (f fakeProbe) Hosted() bool { return f.hosted }

func (f fakeProbe) Properties() (bridge.AppProperties, error) { return f.props, f.err }

// clearHostingEnv makes sure agent variables from the outer environment do
// not leak into a test.
func clearHostingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvPort, EnvAppPath, EnvToken, EnvAuthModes} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestActivateNilBuilder(t *testing.T) {
	require.ErrorIs(t, Activate(nil), ErrNilBuilder)
}

func TestActivateStandaloneLeavesBuilderUntouched(t *testing.T) {
	clearHostingEnv(t)

	b := NewBuilder(zap.NewNop())
	require.NoError(t, activate(b, fakeProbe{}))

	assert.Empty(t, b.settings)
	assert.Empty(t, b.filters)
	assert.Empty(t, b.deferred)
	assert.Nil(t, b.server)
}

func TestActivateOutOfProcess(t *testing.T) {
	clearHostingEnv(t)
	t.Setenv(EnvPrefix+EnvPort, "39001")
	t.Setenv(EnvPrefix+EnvAppPath, "/myapp")
	t.Setenv(EnvPrefix+EnvToken, "c0ffee0123456789c0ffee0123456789")

	b := NewBuilder(zap.NewNop())
	require.NoError(t, activate(b, fakeProbe{}))

	assert.Equal(t, "true", b.Setting(SettingBootstrapped))
	assert.Equal(t, "true", b.Setting(SettingCaptureStartupErrors))
	require.Len(t, b.deferred, 1)

	// The address assignment is deferred; nothing is visible until Build.
	_, ok := b.Lookup(SettingURLs)
	assert.False(t, ok)

	host := b.Build(func(r *gin.Engine) {
		r.GET("/myapp/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})
	})

	assert.Equal(t, "http://127.0.0.1:39001", b.Setting(SettingURLs))
	assert.Equal(t, "true", b.Setting(SettingPreferHostingURLs))
	assert.Equal(t, "/myapp", b.Setting(SettingAppPath))
	assert.True(t, b.Options().ForwardAuthentication)

	req := httptest.NewRequest(http.MethodGet, "/myapp/ping", nil)
	w := httptest.NewRecorder()
	host.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/myapp/ping", nil)
	req.Header.Set("X-HostLink-Token", "c0ffee0123456789c0ffee0123456789")
	w = httptest.NewRecorder()
	host.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestActivateOutOfProcessSnapshotIgnoresLaterEnvChanges(t *testing.T) {
	clearHostingEnv(t)
	t.Setenv(EnvPrefix+EnvPort, "39002")
	t.Setenv(EnvPrefix+EnvAppPath, "/app")
	t.Setenv(EnvPrefix+EnvToken, "tok")

	b := NewBuilder(zap.NewNop())
	require.NoError(t, activate(b, fakeProbe{}))

	t.Setenv(EnvPrefix+EnvPort, "40000")
	b.Build(nil)

	assert.Equal(t, "http://127.0.0.1:39002", b.Setting(SettingURLs))
}

func TestActivateIncompleteTripleRunsStandalone(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing port", map[string]string{EnvAppPath: "/app", EnvToken: "tok"}},
		{"missing app path", map[string]string{EnvPort: "39001", EnvToken: "tok"}},
		{"missing token", map[string]string{EnvPort: "39001", EnvAppPath: "/app"}},
		{"only auth modes", map[string]string{EnvAuthModes: "Negotiate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearHostingEnv(t)
			for key, val := range tt.env {
				t.Setenv(EnvPrefix+key, val)
			}

			b := NewBuilder(zap.NewNop())
			require.NoError(t, activate(b, fakeProbe{}))

			assert.Empty(t, b.settings)
			assert.Empty(t, b.filters)
			assert.Empty(t, b.deferred)
		})
	}
}

func TestActivateInProcess(t *testing.T) {
	clearHostingEnv(t)
	// A complete loopback environment must not matter when the conduit is
	// present.
	t.Setenv(EnvPrefix+EnvPort, "39001")
	t.Setenv(EnvPrefix+EnvAppPath, "/ignored")
	t.Setenv(EnvPrefix+EnvToken, "tok")

	probe := fakeProbe{
		hosted: true,
		props: bridge.AppProperties{
			PhysicalPath:  "/srv/app",
			VirtualPath:   "/app",
			NegotiateAuth: true,
		},
	}

	b := NewBuilder(zap.NewNop())
	require.NoError(t, activate(b, probe))

	require.IsType(t, &server.InProcess{}, b.server)
	assert.Equal(t, "true", b.Setting(SettingBootstrapped))
	assert.Equal(t, "/srv/app", b.Setting(SettingContentRoot))
	assert.Equal(t, "/app", b.Setting(SettingAppPath))
	assert.True(t, b.Options().ForwardAuthentication)

	b.Build(nil)
	_, ok := b.Lookup(SettingURLs)
	assert.False(t, ok, "in-process mode must not assign a loopback URL")
}

func TestActivateInProcessForwardAuthentication(t *testing.T) {
	tests := []struct {
		name      string
		negotiate bool
		basic     bool
		want      bool
	}{
		{"neither", false, false, false},
		{"negotiate only", true, false, true},
		{"basic only", false, true, true},
		{"both", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearHostingEnv(t)
			probe := fakeProbe{
				hosted: true,
				props: bridge.AppProperties{
					PhysicalPath:  "/srv/app",
					VirtualPath:   "/app",
					NegotiateAuth: tt.negotiate,
					BasicAuth:     tt.basic,
				},
			}

			b := NewBuilder(zap.NewNop())
			require.NoError(t, activate(b, probe))
			assert.Equal(t, tt.want, b.Options().ForwardAuthentication)
		})
	}
}

func TestActivateInProcessPropertiesFailure(t *testing.T) {
	clearHostingEnv(t)
	probe := fakeProbe{
		hosted: true,
		err:    errors.New("conduit handshake failed"),
	}

	b := NewBuilder(zap.NewNop())
	err := activate(b, probe)
	require.Error(t, err)
	assert.ErrorContains(t, err, "conduit handshake failed")

	assert.Empty(t, b.filters)
	assert.Empty(t, b.deferred)
	assert.Nil(t, b.server)
}

func TestActivateIsIdempotent(t *testing.T) {
	clearHostingEnv(t)
	t.Setenv(EnvPrefix+EnvPort, "39001")
	t.Setenv(EnvPrefix+EnvAppPath, "/app")
	t.Setenv(EnvPrefix+EnvToken, "tok")

	b := NewBuilder(zap.NewNop())
	require.NoError(t, activate(b, fakeProbe{}))
	filters, deferred := len(b.filters), len(b.deferred)

	require.NoError(t, activate(b, fakeProbe{}))
	assert.Equal(t, filters, len(b.filters))
	assert.Equal(t, deferred, len(b.deferred))
}

func TestForwardAuthFromModes(t *testing.T) {
	tests := []struct {
		modes string
		want  bool
	}{
		{"", true},
		{"anonymous", false},
		{"ANONYMOUS", false},
		{"anonymous;NTLM", true},
		{"Negotiate", true},
		{"basic;anonymous", true},
	}

	for _, tt := range tests {
		t.Run(tt.modes, func(t *testing.T) {
			assert.Equal(t, tt.want, forwardAuthFromModes(tt.modes))
		})
	}
}

func TestResolveExplicitSettingWinsOverEnv(t *testing.T) {
	t.Setenv(EnvPrefix+EnvPort, "1111")

	b := NewBuilder(zap.NewNop())
	assert.Equal(t, "1111", Resolve(b, EnvPort))

	b.SetSetting(EnvPort, "2222")
	assert.Equal(t, "2222", Resolve(b, EnvPort))
}
