// Command gateway runs the multi-tenant LLM gateway: it loads configuration,
// wires the provider, cache, vector, memory, routing, and persistence
// substrates, and serves the primary turn interface of SPEC_FULL.md §6 over
// HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"relaycore/internal/api"
	"relaycore/internal/cache"
	"relaycore/internal/config"
	gwcontext "relaycore/internal/context"
	"relaycore/internal/llm/pricing"
	"relaycore/internal/llm/providers"
	"relaycore/internal/mcp"
	"relaycore/internal/memory"
	"relaycore/internal/metrics"
	"relaycore/internal/observability"
	"relaycore/internal/persistence"
	"relaycore/internal/pipeline"
	"relaycore/internal/router"
	"relaycore/internal/tieredfc"
	"relaycore/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway")
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("RELAYCORE_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	log.Info().Str("version", version.Version).Msg("starting gateway")

	baseCtx := context.Background()

	var pool *pgxpool.Pool
	if cfg.Database.DSN != "" {
		pool, err = pgxpool.New(baseCtx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
	}

	chatStore := persistence.NewChatStore(pool)
	policyStore := persistence.NewPolicyStore(pool)
	pricingStore := persistence.NewPricingStore(pool)
	usageStore := persistence.NewUsageStore(pool)
	for _, s := range []interface {
		Init(context.Context) error
	}{chatStore, policyStore, pricingStore, usageStore} {
		if err := s.Init(baseCtx); err != nil {
			return fmt.Errorf("init persistence: %w", err)
		}
	}
	defer chatStore.Close()
	defer policyStore.Close()
	defer pricingStore.Close()
	defer usageStore.Close()

	cacheClient := cache.New(cfg.Cache)

	vectors, err := buildVectorStore(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("vector store unavailable, using in-process vector store")
	}

	mgr, err := providers.Build(*cfg, http.DefaultClient)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	embedder := firstEmbeddingCapableProvider(mgr)
	memStage := memory.New(cacheClient, vectors, embedder)
	ctxEngine := gwcontext.New(cacheClient, memStage)
	tieredEngine := tieredfc.New(cfg.TieredFC, cacheClient)

	mcpRegistry := mcp.NewRegistry(policyStore, cacheClient)
	mcpCtx, mcpCancel := context.WithTimeout(baseCtx, 20*time.Second)
	if err := mcpRegistry.Discover(mcpCtx, cfg.MCPServers); err != nil {
		log.Warn().Err(err).Msg("mcp discovery failed, continuing with no tools")
	}
	mcpCancel()

	pricingSvc := pricing.New(buildAWSPricingClient(baseCtx), pricingStore)
	go pricingSvc.StartRefreshLoop(baseCtx)

	catalog := router.Discover(baseCtx, providers.Listers(mgr))

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)

	userStore, identify := buildIdentity(pool)
	if err := userStore.Init(baseCtx); err != nil {
		return fmt.Errorf("init user store: %w", err)
	}
	defer userStore.Close()

	orchestrator := pipeline.New(recorder,
		&pipeline.AuthStage{Users: userStore},
		&pipeline.MemoryStage{Memory: memStage},
		&pipeline.MCPStage{Registry: mcpRegistry},
		&pipeline.ContextStage{
			Engine:       ctxEngine,
			ModelInfo:    modelInfoFor(catalog),
			SystemPrompt: "You are the gateway's assistant.",
		},
		&pipeline.TieredFCStage{Engine: tieredEngine},
		&pipeline.RouteStage{Catalog: catalog},
		&pipeline.LLMStage{Manager: mgr},
		&pipeline.ToolExecStage{Registry: mcpRegistry},
		&pipeline.PersistStage{Chat: chatStore},
		&pipeline.MetricsStage{Usage: usageStore, Pricing: pricingSvc, Recorder: recorder},
	)

	srv := api.NewServer(orchestrator, identify)
	mux := http.NewServeMux()
	srv.Routes(mux)

	addr := ":" + strconv.Itoa(config.EnvInt("RELAYCORE_HTTP_PORT", 8080))
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("gateway listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("gateway stopped")
	return nil
}
