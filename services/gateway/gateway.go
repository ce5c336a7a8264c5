// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway provides the LLM gateway service for AleutianStudio.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the LLM profile registry, the native agent
// runtime, session storage, the outbound content guard, and the
// observability infrastructure.
//
// # Enterprise Integration
//
// The gateway supports dependency injection via extensions.GatewayOptions,
// enabling custom implementations of:
//   - AuthProvider: Custom authentication (JWT, API keys)
//   - AuditLogger: Compliance audit logging
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg := gateway.Config{Port: 8000}
//	svc, err := gateway.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianStudio/pkg/extensions"
	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/handlers"
	"github.com/AleutianAI/AleutianStudio/services/gateway/middleware"
	"github.com/AleutianAI/AleutianStudio/services/gateway/observability"
	"github.com/AleutianAI/AleutianStudio/services/gateway/routes"
	"github.com/AleutianAI/AleutianStudio/services/gateway/session"
	"github.com/AleutianAI/AleutianStudio/services/guard"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

const (
	// EnvAPIToken enables static bearer authentication when set.
	EnvAPIToken = "STUDIO_API_TOKEN" //nolint:gosec // env var name, not a credential

	// shutdownTimeout bounds graceful drain of in-flight streams.
	shutdownTimeout = 10 * time.Second
)

// Service defines the contract for the gateway service.
//
// Implementations must be safe for concurrent use. Run blocks until
// shutdown and should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until a shutdown signal
	// arrives or the server fails. Cleanup is automatic on return.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers
	// must not modify it.
	Router() *gin.Engine
}

// Config holds gateway configuration options. All fields are optional;
// New applies defaults for zero values. Listener settings may also come
// from the server block of settings.yaml, with Config taking precedence.
type Config struct {
	// Port is the HTTP server port. Default: settings.yaml server.port,
	// then 8000.
	Port int

	// SettingsPath is the location of settings.yaml.
	// Default: $STUDIO_SETTINGS_PATH, then "settings.yaml".
	SettingsPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317".
	OTelEndpoint string

	// DisableMetrics turns off Prometheus metric registration. Metrics
	// are on by default.
	DisableMetrics bool

	// GinMode sets the Gin framework mode: "debug", "release", "test".
	// Default: uses the GIN_MODE env var or "debug".
	GinMode string

	// AuditLogPath, when set, writes audit events to a JSONL file
	// instead of the process log. Only used when no custom AuditLogger
	// is injected.
	AuditLogPath string
}

// service implements Service for production use.
//
// All fields are read-only after New returns; the settings loader hands
// out immutable snapshots, so handlers see hot reloads without locking
// here.
type service struct {
	config        Config
	opts          extensions.GatewayOptions
	router        *gin.Engine
	loader        *config.Loader
	registry      *llm.Registry
	store         session.Store
	sweeper       *session.Sweeper
	guard         *guard.Guard
	tracerCleanup func(context.Context)
}

// New creates a gateway Service with the given configuration.
//
// New loads settings.yaml, initializes OpenTelemetry tracing and
// Prometheus metrics, builds the LLM profile registry (rebuilt on
// settings changes), opens the session store, compiles the outbound
// guard rules, and registers all HTTP routes. If opts is nil the
// defaults apply: bearer auth via STUDIO_API_TOKEN when set and
// allow-all otherwise, audit to the process log.
func New(cfg Config, opts *extensions.GatewayOptions) (Service, error) {
	s := &service{}

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = optionsFromEnv(cfg)
	}
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = &extensions.NopAuthProvider{}
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = &extensions.NopAuditLogger{}
	}

	loader, err := config.Load(settingsPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s.loader = loader
	s.config = applyConfigDefaults(cfg, loader.Current())

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if !s.config.DisableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	s.guard, err = guard.New()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to compile guard rules: %w", err)
	}

	s.registry = llm.NewRegistry(loader.Current().LLMProfiles())
	loader.OnChange(func(settings config.Settings) {
		s.registry.Rebuild(settings.LLMProfiles())
		slog.Info("Rebuilt LLM registry after settings change",
			"profiles", len(settings.Profiles))
	})

	if err := s.initSessions(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a
// listener error. In-flight streams get shutdownTimeout to drain.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := s.loader.Current()
	addr := fmt.Sprintf("%s:%d", settings.Server.Host, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.sweeper != nil {
		if err := s.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start session sweeper: %w", err)
		}
	}

	slog.Info("Starting gateway server", "addr", addr)

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// settingsPath resolves the settings file location before defaults are
// applied, since loading must happen first.
func settingsPath(cfg Config) string {
	if cfg.SettingsPath != "" {
		return cfg.SettingsPath
	}
	return config.SettingsPath()
}

// applyConfigDefaults fills in missing configuration values, consulting
// the server block of settings.yaml for listener settings.
func applyConfigDefaults(cfg Config, settings config.Settings) Config {
	if cfg.Port == 0 {
		cfg.Port = settings.Server.Port
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	return cfg
}

// optionsFromEnv builds the default extension options. Setting
// STUDIO_API_TOKEN switches the gateway from allow-all local use to
// static bearer authentication.
func optionsFromEnv(cfg Config) extensions.GatewayOptions {
	opts := extensions.DefaultOptions()
	if token := os.Getenv(EnvAPIToken); token != "" {
		opts = opts.WithAuth(extensions.NewTokenAuthProvider(token))
		slog.Info("Bearer authentication enabled")
	}
	if cfg.AuditLogPath != "" {
		logger, err := extensions.NewFileAuditLogger(cfg.AuditLogPath)
		if err != nil {
			slog.Warn("Failed to open audit log, auditing to process log",
				"path", cfg.AuditLogPath, "error", err)
		} else {
			opts = opts.WithAudit(logger)
		}
	}
	return opts
}

// initTracer initializes OpenTelemetry distributed tracing over an
// insecure gRPC connection, appropriate for internal networks. The
// returned cleanup flushes and shuts down the exporter.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initSessions opens the configured session store and, when a TTL is
// set, prepares the idle-session sweeper.
func (s *service) initSessions() error {
	settings := s.loader.Current()

	store, err := session.NewStore(settings.Sessions.Backend, settings.Sessions.Path)
	if err != nil {
		return err
	}
	s.store = store

	if ttl := settings.Sessions.TTL(); ttl > 0 {
		sweeper, err := session.NewSweeper(store, session.SweeperConfig{TTL: ttl})
		if err != nil {
			return err
		}
		s.sweeper = sweeper
	}

	return nil
}

// initRouter sets up the Gin HTTP router with middleware and routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	settings := s.loader.Current()

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("gateway-service"))
	s.router.Use(middleware.CORSMiddleware(settings.Server.AllowedOrigins))

	if settings.Server.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(
			settings.Server.RateLimitRPS, settings.Server.RateLimitBurst)
		s.router.Use(limiter.Middleware())
	}

	routes.SetupRoutes(s.router, s.registry, s.store, s.guard, s.loader.Current, s.opts)
}

// cleanup releases all resources held by the service. Called when Run
// exits or on initialization failure.
func (s *service) cleanup() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Session store close error", "error", err)
		}
	}

	if err := s.opts.AuditLogger.Flush(context.Background()); err != nil {
		slog.Warn("Audit log flush error", "error", err)
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}

	handlers.PurgeAllSecureMemory()
}
