package hosting

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/internal/bridge"
	"github.com/hostlink/go-hostlink/internal/server"
	"github.com/hostlink/go-hostlink/pkg/middleware"
)

// ErrNilBuilder is returned when Activate is called with a nil builder.
var ErrNilBuilder = errors.New("hosting: nil builder")

// Mode is the hosting mode resolved for this process. Exactly one mode is
// selected per builder.
type Mode int

const (
	// ModeStandalone means no agent was detected and the builder is left
	// unchanged. The application runs on its own configuration.
	ModeStandalone Mode = iota
	// ModeInProcess means the agent loaded this application in-process
	// and requests arrive over the conduit.
	ModeInProcess
	// ModeOutOfProcess means the agent forwards requests over loopback
	// HTTP authenticated with the pairing token.
	ModeOutOfProcess
	// ModeAlreadyConfigured means Activate already ran for this builder.
	ModeAlreadyConfigured
)

func (m Mode) String() string {
	switch m {
	case ModeStandalone:
		return "standalone"
	case ModeInProcess:
		return "in-process"
	case ModeOutOfProcess:
		return "out-of-process"
	case ModeAlreadyConfigured:
		return "already-configured"
	default:
		return "unknown"
	}
}

// Activate resolves the hosting mode for this process and wires the builder
// accordingly. It runs once per builder during single-threaded startup;
// calling it again is a no-op. When neither the agent conduit nor a complete
// out-of-process environment is present, the builder is returned unchanged so
// the application works standalone.
func Activate(b *Builder) error {
	return activate(b, platformProbe{})
}

// outOfProcessConfig is the environment triple (plus auth modes) resolved for
// out-of-process mode.
type outOfProcessConfig struct {
	Port      string
	AppPath   string
	Token     string
	AuthModes string
}

func (c outOfProcessConfig) complete() bool {
	return c.Port != "" && c.AppPath != "" && c.Token != ""
}

func selectMode(b *Builder, probe HostProbe) (Mode, outOfProcessConfig) {
	if _, ok := b.Lookup(SettingBootstrapped); ok {
		return ModeAlreadyConfigured, outOfProcessConfig{}
	}
	// An agent conduit in this process is authoritative: no separate
	// listening socket is wanted even if loopback variables are also set.
	if probe.Hosted() {
		return ModeInProcess, outOfProcessConfig{}
	}
	cfg := outOfProcessConfig{
		Port:      Resolve(b, EnvPort),
		AppPath:   Resolve(b, EnvAppPath),
		Token:     Resolve(b, EnvToken),
		AuthModes: Resolve(b, EnvAuthModes),
	}
	if cfg.complete() {
		return ModeOutOfProcess, cfg
	}
	return ModeStandalone, outOfProcessConfig{}
}

func activate(b *Builder, probe HostProbe) error {
	if b == nil {
		return ErrNilBuilder
	}

	mode, cfg := selectMode(b, probe)
	switch mode {
	case ModeAlreadyConfigured:
		return nil

	case ModeStandalone:
		b.logger.Debug("No agent detected, running standalone")
		return nil

	case ModeInProcess:
		b.SetSetting(SettingBootstrapped, "true")
		b.SetSetting(SettingCaptureStartupErrors, "true")
		props, err := probe.Properties()
		if err != nil {
			return fmt.Errorf("hosting: fetching application properties from agent: %w", err)
		}
		b.SetSetting(SettingContentRoot, props.PhysicalPath)
		wireInProcess(b, props)
		b.logger.Info("Hosting mode selected",
			zap.String("mode", mode.String()),
			zap.String("app_path", props.VirtualPath))

	case ModeOutOfProcess:
		b.SetSetting(SettingBootstrapped, "true")
		wireOutOfProcess(b, cfg)
		b.logger.Info("Hosting mode selected",
			zap.String("mode", mode.String()),
			zap.String("port", cfg.Port),
			zap.String("app_path", cfg.AppPath))
	}

	return nil
}

func wireInProcess(b *Builder, props bridge.AppProperties) {
	b.UseServer(server.NewInProcess(b.logger))
	b.SetSetting(SettingAppPath, props.VirtualPath)
	b.Use(middleware.PathScope(props.VirtualPath))
	b.opts.ForwardAuthentication = props.NegotiateAuth || props.BasicAuth
	b.registerAuthCore("")
}

// pairingSnapshot holds the values resolved at decision time. The deferred
// configuration closes over this snapshot, not the environment, so a later
// environment change cannot alter the wiring.
type pairingSnapshot struct {
	Addr        string
	AppPath     string
	Token       string
	ForwardAuth bool
}

func wireOutOfProcess(b *Builder, cfg outOfProcessConfig) {
	b.SetSetting(SettingCaptureStartupErrors, "true")

	snap := pairingSnapshot{
		Addr:        "http://127.0.0.1:" + cfg.Port,
		AppPath:     cfg.AppPath,
		Token:       cfg.Token,
		ForwardAuth: forwardAuthFromModes(cfg.AuthModes),
	}

	// Deferred to Build time so the application's own configuration,
	// applied in between, cannot overwrite the agent-assigned address.
	b.Defer(func(b *Builder) {
		b.SetSetting(SettingURLs, snap.Addr)
		b.SetSetting(SettingPreferHostingURLs, "true")
		b.SetSetting(SettingAppPath, snap.AppPath)
		b.Use(middleware.PairingGuard(middleware.PairingConfig{
			Token:   snap.Token,
			AppPath: snap.AppPath,
			Header:  b.opts.PairingHeader,
		}, b.logger))
		b.Use(middleware.ForwardedHeaders(b.logger))
		b.opts.ForwardAuthentication = snap.ForwardAuth
		b.registerAuthCore(snap.Token)
	})
}

// forwardAuthFromModes derives the auth-forwarding flag from the agent's
// semicolon-separated scheme list. An absent list means an older agent that
// does not report schemes: assume forwarding is needed. Changing this default
// would change trust behavior for existing deployments.
func forwardAuthFromModes(modes string) bool {
	if modes == "" {
		return true
	}
	for _, scheme := range strings.Split(modes, ";") {
		if !strings.EqualFold(scheme, "anonymous") {
			return true
		}
	}
	return false
}

// registerAuthCore installs the forwarded-identity filter once, with the
// forwarding flag as resolved for the selected mode.
func (b *Builder) registerAuthCore(secret string) {
	if b.authCore {
		return
	}
	b.authCore = true
	b.Use(middleware.ForwardedIdentity(middleware.IdentityConfig{
		Enabled: b.opts.ForwardAuthentication,
		Secret:  secret,
		Header:  b.opts.IdentityHeader,
	}, b.logger))
}
