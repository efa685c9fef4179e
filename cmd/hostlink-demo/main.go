// Command hostlink-demo is a sample application built on the hosting
// bootstrap. Run standalone it serves on the configured address; launched by
// a HostLink agent (or the simulator) it pairs automatically from the
// environment.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/internal/demo"
	"github.com/hostlink/go-hostlink/pkg/config"
	"github.com/hostlink/go-hostlink/pkg/hosting"
	"github.com/hostlink/go-hostlink/pkg/logging"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting HostLink demo application",
		zap.String("version", version),
		zap.String("name", cfg.App.Name),
	)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	b := hosting.NewBuilder(logger)
	b.SetAddr(cfg.Server.Address())
	b.Options().MaxRequestBodyBytes = cfg.App.MaxRequestBodyBytes

	if err := hosting.Activate(b); err != nil {
		logger.Fatal("Hosting bootstrap failed", zap.Error(err))
	}

	handlers := demo.NewHandlers(cfg, logger)

	host := b.Build(func(r *gin.Engine) {
		if len(cfg.CORS.AllowedOrigins) > 0 {
			r.Use(cors.New(cors.Config{
				AllowOrigins:     cfg.CORS.AllowedOrigins,
				AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowHeaders:     []string{"Authorization", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			}))
		}

		base := b.Setting(hosting.SettingAppPath)
		if base == "" {
			base = "/"
		}
		handlers.Register(r, base)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run blocks until a signal arrives, then drains in-flight requests.
	if err := host.Run(ctx); err != nil {
		logger.Fatal("Application server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}
