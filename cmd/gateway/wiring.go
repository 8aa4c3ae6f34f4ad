package main

import (
	"context"
	"net/http"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"relaycore/internal/api"
	"relaycore/internal/config"
	gwcontext "relaycore/internal/context"
	"relaycore/internal/llm"
	"relaycore/internal/memory"
	"relaycore/internal/persistence"
	"relaycore/internal/pipeline"
	"relaycore/internal/router"
	"relaycore/internal/vectorstore"
)

// buildVectorStore connects to Qdrant when configured, falling back to the
// in-process store used for local development and tests.
func buildVectorStore(cfg *config.Config) (vectorstore.Store, error) {
	if cfg.Vector.DSN == "" {
		return vectorstore.NewMemory(), nil
	}
	store, err := vectorstore.NewQdrant(cfg.Vector.DSN)
	if err != nil {
		return vectorstore.NewMemory(), err
	}
	return store, nil
}

// embedAdapter adapts llm.Provider's batch EmbedText to the single-string
// shape memory.Embedder expects.
type embedAdapter struct {
	provider llm.Provider
}

func (e embedAdapter) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.provider.EmbedText(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, llm.ErrUnsupported
	}
	return vecs[0], nil
}

// firstEmbeddingCapableProvider probes each registered provider for
// embedding support, returning the first that doesn't report
// ErrUnsupported. Memory retrieval falls back to keyword search when none
// do.
func firstEmbeddingCapableProvider(mgr *llm.Manager) memory.Embedder {
	for _, p := range mgr.Providers() {
		if _, err := p.EmbedText(context.Background(), []string{"probe"}); err == nil {
			return embedAdapter{provider: p}
		}
	}
	return nil
}

// modelInfoFor resolves the chosen model's capability profile from the
// discovery catalog for the context-assembly engine's budget calculation.
func modelInfoFor(catalog *router.Catalog) func(pc *pipeline.PipelineContext) gwcontext.ModelInfo {
	return func(pc *pipeline.PipelineContext) gwcontext.ModelInfo {
		modelID := pc.ModelID
		if pc.TieredDecision.Model != "" {
			modelID = pc.TieredDecision.Model
		}
		for _, p := range catalog.Profiles() {
			if p.ID == modelID {
				return gwcontext.ModelInfo{
					ID:                    p.ID,
					ContextWindow:         p.MaxContextTokens,
					ReservedForGeneration: reservedForGeneration(p.MaxContextTokens),
				}
			}
		}
		return gwcontext.ModelInfo{ID: modelID, ContextWindow: 8192, ReservedForGeneration: 1024}
	}
}

func reservedForGeneration(contextWindow int) int {
	reserved := contextWindow / 8
	if reserved < 512 {
		return 512
	}
	return reserved
}

// buildAWSPricingClient loads the default AWS credential chain for the
// pricing service's live lookups. A nil return degrades CalculateCost to
// its fallback table, which is the expected path for local development
// without AWS credentials configured.
func buildAWSPricingClient(ctx context.Context) *awspricing.Client {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion("us-east-1"))
	if err != nil {
		log.Warn().Err(err).Msg("aws pricing client unavailable, using fallback pricing table")
		return nil
	}
	return awspricing.NewFromConfig(awsCfg)
}

// buildIdentity chooses the pipeline's user store and the HTTP layer's
// identify function. Callers identify themselves with a trusted header,
// which is the model this gateway's turn interface is built around: the
// caller (an internal service mesh, an edge proxy terminating its own
// login flow) has already authenticated the request and passes the
// resulting user id through, so the pipeline never needs to run a login
// flow of its own.
func buildIdentity(pool *pgxpool.Pool) (persistence.UserStore, func(r *http.Request) (string, error)) {
	return persistence.NewUserStore(pool), api.IdentifyFromHeader("X-User-Id")
}
