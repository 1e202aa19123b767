// Command cortexosd is the CortexOS Orchestration Kernel daemon: it
// wires the Container/Agent Pool, Context Manager, FinOps Engine, Model
// Router, A2A Protocol Gateway and CADP Federation peer into one
// process and serves the Gateway's HTTP surface and the Federation's
// CADP listener until signaled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexos/kernel/internal/bus"
	"github.com/cortexos/kernel/internal/config"
	"github.com/cortexos/kernel/internal/contextmgr"
	"github.com/cortexos/kernel/internal/federation"
	"github.com/cortexos/kernel/internal/finops"
	"github.com/cortexos/kernel/internal/gateway"
	otelpkg "github.com/cortexos/kernel/internal/otel"
	"github.com/cortexos/kernel/internal/pricing"
	"github.com/cortexos/kernel/internal/router"
	"github.com/cortexos/kernel/internal/taskpool"
	"github.com/cortexos/kernel/internal/telemetry"
	"github.com/cortexos/kernel/internal/workeradapter/dockerworker"
	"github.com/cortexos/kernel/internal/workeradapter/localproc"
	"github.com/cortexos/kernel/internal/workeradapter/podworker"
)

const Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `cortexosd %s

Usage:
  cortexosd [flags]

Flags:
`, Version)
	flag.PrintDefaults()
}

func main() {
	quiet := flag.Bool("quiet", false, "suppress non-error log output")
	worker := flag.String("worker", "docker", "task pool worker backend: docker|local|pod")
	podNamespace := flag.String("pod-namespace", "default", "kubernetes namespace for the pod worker backend")
	kubeconfig := flag.String("kubeconfig", "", "path to a kubeconfig file for the pod worker backend (defaults to in-cluster config)")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config.load_failed", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "logger.init_failed", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	metricsEnabled := cfg.Telemetry.MetricsEnabled
	otelProvider, err := otelpkg.Init(ctx, otelpkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: &metricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "otel.init_failed", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", "error", err)
		}
	}()

	eventBus := bus.NewWithLogger(logger)

	catalog := pricing.DefaultCatalog()
	if len(cfg.PricingOverrides) > 0 {
		models := catalog.Models()
		for _, o := range cfg.PricingOverrides {
			models = append(models, pricing.ModelPricing{
				Model:           o.ID,
				Provider:        o.Provider,
				Tier:            pricing.Tier(o.Tier),
				PromptPer1M:     o.PromptPer1M,
				CompletionPer1M: o.CompletionPer1M,
				DowngradePath:   o.DowngradePath,
			})
		}
		catalog = pricing.NewCatalog(models...)
	}

	modelRouter := router.New(catalog)

	finopsEngine := finops.New(finops.Config{
		Enabled:                     cfg.FinOps.Enabled,
		MaxRecords:                  cfg.FinOps.MaxRecords,
		ForecastEnabled:             cfg.FinOps.ForecastEnabled,
		RightsizingEnabled:          cfg.FinOps.RightsizingEnabled,
		ReportIntervalMs:            cfg.FinOps.ReportIntervalMs,
		DefaultBudgetAlertThreshold: cfg.FinOps.DefaultBudgetAlertThreshold,
	}, catalog, eventBus, logger)

	contextManager := contextmgr.NewManager(contextmgr.Config{
		STMCapacity:           cfg.ContextManager.STMCapacity,
		LTMCapacity:           cfg.ContextManager.LTMCapacity,
		QLearningRate:         cfg.ContextManager.QLearningRate,
		QDiscountFactor:       cfg.ContextManager.QDiscountFactor,
		AutoCompressThreshold: cfg.ContextManager.AutoCompressThreshold,
		PromotionQThreshold:   cfg.ContextManager.PromotionQThreshold,
		EnableSemanticIndex:   cfg.ContextManager.EnableSemanticIndex,
	}, eventBus, logger)

	poolWorker, err := newWorker(*worker, podworker.Config{Namespace: *podNamespace, Kubeconfig: *kubeconfig})
	if err != nil {
		fatalStartup(logger, "taskpool.worker_init_failed", err)
	}

	envs := taskpool.NewEnvironmentRegistry(taskpool.Environment{
		ID:      cfg.Pool.DefaultEnvironment,
		Image:   "golang:alpine",
		Command: []string{"sh", "-c", "true"},
	})

	pool := taskpool.New(taskpool.Config{
		MaxContainers:      cfg.Pool.MaxContainers,
		DefaultEnvironment: cfg.Pool.DefaultEnvironment,
		ContainerTimeout:   time.Duration(cfg.Pool.ContainerTimeoutMs) * time.Millisecond,
	}, envs, poolWorker, eventBus, logger)

	gw, err := gateway.New(gateway.Config{
		MaxConcurrentTasks: cfg.Gateway.MaxConcurrentTasks,
		TaskTimeout:        time.Duration(cfg.Gateway.TaskTimeoutMs) * time.Millisecond,
		Handler:            newPoolTaskHandler(pool, contextManager, finopsEngine, modelRouter),
		Bus:                eventBus,
		Logger:             logger,
		LTM:                ltmAdapter{mgr: contextManager},
		AgentCard: gateway.AgentCard{
			Name:        "cortexos",
			Description: "CortexOS Orchestration Kernel agent gateway",
			Version:     Version,
			Capabilities: gateway.Capabilities{
				Streaming:         true,
				PushNotifications: true,
			},
			DefaultInputModes:  []string{"text"},
			DefaultOutputModes: []string{"text"},
		},
		Auth: gateway.AuthConfig{
			Enabled: len(cfg.Gateway.APIKeys) > 0,
			Keys:    cfg.Gateway.APIKeys,
		},
		CORS: gateway.CORSConfig{
			Enabled:        true,
			AllowedOrigins: orDefault(cfg.Gateway.AllowOrigins, []string{"*"}),
		},
		RateLimit: gateway.RateLimitConfig{
			Enabled:           cfg.Gateway.RateLimitPerMinute > 0,
			RequestsPerMinute: cfg.Gateway.RateLimitPerMinute,
			BurstSize:         cfg.Gateway.RateLimitBurst,
		},
	})
	if err != nil {
		fatalStartup(logger, "gateway.init_failed", err)
	}

	fed, err := federation.New(federation.Config{
		PeerID:             cfg.Federation.PeerID,
		PeerName:           cfg.Federation.PeerName,
		ListenPort:         cfg.Federation.ListenPort,
		SyncIntervalMs:     cfg.Federation.SyncIntervalMs,
		MaxPeers:           cfg.Federation.MaxPeers,
		ShareCapabilities:  cfg.Federation.ShareCapabilities,
		AcceptRemoteAgents: cfg.Federation.AcceptRemoteAgents,
		Bus:                eventBus,
		Logger:             logger,
	})
	if err != nil {
		fatalStartup(logger, "federation.init_failed", err)
	}
	if err := fed.StartSync(ctx, cfg.Federation.SyncCronExpr); err != nil {
		fatalStartup(logger, "federation.sync_start_failed", err)
	}
	defer fed.StopSync()

	gwAddr := fmt.Sprintf("%s:%d", cfg.Gateway.Hostname, cfg.Gateway.Port)
	gwServer := &http.Server{Addr: gwAddr, Handler: gw.Handler()}
	fedAddr := fmt.Sprintf(":%d", cfg.Federation.ListenPort)
	fedServer := &http.Server{Addr: fedAddr, Handler: fed.Handler()}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("a2a gateway listening", "addr", gwAddr)
		if err := gwServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()
	go func() {
		logger.Info("cadp federation listening", "addr", fedAddr)
		if err := fedServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("federation: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("listener failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := gwServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}
	if err := fedServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("federation shutdown", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown", "error", err)
	}
}

func newWorker(kind string, podCfg podworker.Config) (taskpool.Worker, error) {
	switch kind {
	case "docker":
		return dockerworker.New()
	case "local":
		return localproc.New(), nil
	case "pod":
		return podworker.New(podCfg)
	default:
		return nil, fmt.Errorf("unknown worker backend %q", kind)
	}
}

func orDefault(vs []string, def []string) []string {
	if len(vs) == 0 {
		return def
	}
	return vs
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
