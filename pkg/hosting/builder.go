// Package hosting wires a managed web application to the HostLink agent at
// startup. Activate inspects the process environment once, decides whether
// the application is hosted in-process (agent conduit), out-of-process
// (loopback HTTP with a pairing token), or standalone, and installs the
// matching server and request filters on the Builder.
package hosting

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/internal/server"
	"github.com/hostlink/go-hostlink/pkg/middleware"
)

// Settings keys used on the Builder's settings bag.
const (
	// SettingBootstrapped marks that Activate already ran for this builder.
	SettingBootstrapped = "hostlink.bootstrapped"
	// SettingURLs is the listening address assigned during bootstrap.
	SettingURLs = "urls"
	// SettingPreferHostingURLs makes the bootstrap-assigned address win
	// over a user-configured one.
	SettingPreferHostingURLs = "preferHostingUrls"
	// SettingCaptureStartupErrors makes startup failures logged before
	// being returned.
	SettingCaptureStartupErrors = "captureStartupErrors"
	// SettingContentRoot is the application root reported by the agent.
	SettingContentRoot = "contentRoot"
	// SettingAppPath is the virtual application path.
	SettingAppPath = "appPath"
)

// DefaultAddr is the listen address used when nothing else is configured.
const DefaultAddr = ":8080"

// Server is the transport the built host runs on.
type Server interface {
	// Start begins serving the handler. It returns once the server is
	// accepting work; bind failures surface here.
	Start(h http.Handler) error

	// Shutdown gracefully stops the server.
	Shutdown(ctx context.Context) error

	// Addr returns the bound address, or "" when there is no socket.
	Addr() string
}

// ConfigureFunc is a deferred configuration step executed at Build time.
type ConfigureFunc func(*Builder)

// Builder accumulates host configuration before the application server is
// built. The application owns the builder; Activate only reads and writes
// individual settings and appends registrations.
type Builder struct {
	logger   *zap.Logger
	settings map[string]string
	deferred []ConfigureFunc
	filters  []gin.HandlerFunc
	server   Server
	opts     *Options
	addr     string
	authCore bool
}

// NewBuilder creates an empty builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		logger:   logger,
		settings: make(map[string]string),
		opts:     defaultOptions(),
	}
}

// Setting returns the value of a settings key, or "" when unset.
func (b *Builder) Setting(key string) string {
	return b.settings[key]
}

// Lookup returns a settings value and whether the key is set at all.
func (b *Builder) Lookup(key string) (string, bool) {
	v, ok := b.settings[key]
	return v, ok
}

// SetSetting stores a settings value.
func (b *Builder) SetSetting(key, value string) {
	b.settings[key] = value
}

// SetAddr sets the user-configured listen address. A bootstrap-assigned
// address takes precedence when SettingPreferHostingURLs is set.
func (b *Builder) SetAddr(addr string) {
	b.addr = addr
}

// Defer registers a configuration step to run at Build time, after the
// application's own configuration.
func (b *Builder) Defer(fn ConfigureFunc) {
	b.deferred = append(b.deferred, fn)
}

// Use appends a startup filter installed ahead of the application routes.
func (b *Builder) Use(filter gin.HandlerFunc) {
	b.filters = append(b.filters, filter)
}

// UseServer sets the server implementation, replacing the default.
func (b *Builder) UseServer(s Server) {
	b.server = s
}

// Options returns the shared hosting options.
func (b *Builder) Options() *Options {
	return b.opts
}

// Build runs the deferred configuration, assembles the request pipeline and
// returns a runnable Host. register adds the application's own middleware and
// routes; it may be nil.
func (b *Builder) Build(register func(*gin.Engine)) *Host {
	for len(b.deferred) > 0 {
		fns := b.deferred
		b.deferred = nil
		for _, fn := range fns {
			fn(b)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(b.logger))
	for _, f := range b.filters {
		router.Use(f)
	}
	if register != nil {
		register(router)
	}

	var handler http.Handler = router
	if b.opts.MaxRequestBodyBytes > 0 {
		handler = http.MaxBytesHandler(handler, b.opts.MaxRequestBodyBytes)
	}

	return &Host{
		server:               b.pickServer(),
		handler:              handler,
		logger:               b.logger,
		captureStartupErrors: b.Setting(SettingCaptureStartupErrors) == "true",
	}
}

func (b *Builder) pickServer() Server {
	if b.server != nil {
		return b.server
	}
	if urls, ok := b.Lookup(SettingURLs); ok {
		if b.addr == "" || b.Setting(SettingPreferHostingURLs) == "true" {
			return server.NewLoopback(urls, b.logger)
		}
	}
	addr := b.addr
	if addr == "" {
		addr = DefaultAddr
	}
	return server.NewHTTP(addr, b.logger)
}

// Host is the built application host.
type Host struct {
	server               Server
	handler              http.Handler
	logger               *zap.Logger
	captureStartupErrors bool
}

// Start begins serving without blocking.
func (h *Host) Start() error {
	if err := h.server.Start(h.handler); err != nil {
		if h.captureStartupErrors {
			h.logger.Error("Startup failed", zap.Error(err))
		}
		return err
	}
	if addr := h.server.Addr(); addr != "" {
		h.logger.Info("Application server listening", zap.String("address", addr))
	}
	return nil
}

// DefaultDrainTimeout bounds the graceful shutdown Run performs after its
// context is cancelled.
const DefaultDrainTimeout = 30 * time.Second

// Run starts the host, blocks until the context is cancelled, and drains
// in-flight requests via Shutdown before returning.
func (h *Host) Run(ctx context.Context) error {
	if err := h.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), DefaultDrainTimeout)
	defer cancel()
	return h.Shutdown(drainCtx)
}

// Shutdown gracefully shuts the host down.
func (h *Host) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// Addr returns the server address, or "" in in-process mode.
func (h *Host) Addr() string {
	return h.server.Addr()
}

// Handler exposes the assembled pipeline. Used by tests and the agent
// simulator's health checks.
func (h *Host) Handler() http.Handler {
	return h.handler
}
