package pipeline

import (
	"context"
	"strings"
	"time"

	gwcontext "relaycore/internal/context"
	"relaycore/internal/gatewayerr"
	"relaycore/internal/llm"
	"relaycore/internal/llm/pricing"
	"relaycore/internal/mcp"
	mcpclient "relaycore/internal/mcp/client"
	"relaycore/internal/memory"
	"relaycore/internal/metrics"
	"relaycore/internal/observability"
	"relaycore/internal/persistence"
	"relaycore/internal/router"
	"relaycore/internal/tieredfc"
	"relaycore/internal/validation"
)

// --- authStage: fatal ------------------------------------------------------

// AuthStage resolves the calling user's identity and group membership,
// which every downstream policy decision (MCP access control, admin
// defaults) depends on.
type AuthStage struct {
	Users persistence.UserStore
}

func (s *AuthStage) Name() string { return "auth" }

func (s *AuthStage) Run(ctx context.Context, pc *PipelineContext) error {
	userID, err := validation.UserID(strings.TrimSpace(pc.UserID))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.AuthDenied, "malformed user id", err)
	}
	if pc.SessionID != "" {
		sessionID, err := validation.SessionID(strings.TrimSpace(pc.SessionID))
		if err != nil {
			return gatewayerr.Wrap(gatewayerr.AuthDenied, "malformed session id", err)
		}
		pc.SessionID = sessionID
	}
	pc.UserID = userID
	user, found, err := s.Users.GetUser(ctx, pc.UserID)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.Internal, "user lookup failed", err)
	}
	if !found {
		return gatewayerr.New(gatewayerr.AuthDenied, "unknown user")
	}
	pc.User = user
	return nil
}

func (s *AuthStage) Rollback(context.Context, *PipelineContext)  {}
func (s *AuthStage) FailurePolicy() FailurePolicy                { return PolicyFatal }

// --- memoryStage: warn-and-continue -----------------------------------

// MemoryStage populates pc.MemoryCtx, per SPEC_FULL.md §4.6. A nil Stage or
// retrieval failure both degrade to zero memories rather than fail the turn.
type MemoryStage struct {
	Memory *memory.Stage
}

func (s *MemoryStage) Name() string { return "memory" }

func (s *MemoryStage) Run(ctx context.Context, pc *PipelineContext) error {
	if !pc.Flags.EnableMemory || s.Memory == nil {
		return nil
	}
	memCtx, err := s.Memory.Retrieve(ctx, pc.UserID, pc.SessionID, lastUserMessage(pc.Messages))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.Internal, "memory retrieval failed", err)
	}
	pc.MemoryCtx = memCtx
	return nil
}

func (s *MemoryStage) Rollback(context.Context, *PipelineContext) {}
func (s *MemoryStage) FailurePolicy() FailurePolicy                { return PolicyWarnAndContinue }

// --- mcpStage: warn-and-continue ----------------------------------------

// MCPStage populates pc.Tools with the policy-filtered tool catalog for
// pc.User, per SPEC_FULL.md §4.7. Discovery itself runs once at startup
// (mcp.Registry.Discover); this stage only resolves per-turn visibility.
type MCPStage struct {
	Registry *mcp.Registry
}

func (s *MCPStage) Name() string { return "mcp" }

func (s *MCPStage) Run(ctx context.Context, pc *PipelineContext) error {
	if !pc.Flags.EnableMCP || s.Registry == nil {
		return nil
	}
	pc.Tools = s.Registry.ToolsFor(ctx, pc.User)
	return nil
}

func (s *MCPStage) Rollback(context.Context, *PipelineContext) {}
func (s *MCPStage) FailurePolicy() FailurePolicy                { return PolicyWarnAndContinue }

// --- contextStage: fatal on invalid identity, warn-and-continue on cache ---

// ContextStage assembles pc.Augmented via the context-assembly engine
// (§4.2). The engine itself classifies invalid user/model as fatal and
// cache faults as gatewayerr.CacheUnavailable; this stage just forwards
// that classification to the orchestrator's fatal/non-fatal switch by
// choosing its own FailurePolicy per error kind at Run time.
type ContextStage struct {
	Engine       *gwcontext.Engine
	ModelInfo    func(pc *PipelineContext) gwcontext.ModelInfo
	SystemPrompt string
}

func (s *ContextStage) Name() string { return "context" }

func (s *ContextStage) Run(ctx context.Context, pc *PipelineContext) error {
	msgs := make([]gwcontext.Message, 0, len(pc.Messages))
	for _, m := range pc.Messages {
		msgs = append(msgs, gwcontext.Message{Role: m.Role, Content: m.Content})
	}
	model := s.ModelInfo(pc)
	flags := gwcontext.Flags{CachingEnabled: pc.Flags.CacheEnabled}

	aug, err := s.Engine.Assemble(ctx, pc.UserID, pc.SessionID, msgs, model, flags, s.SystemPrompt)
	if err != nil {
		return err
	}
	pc.Augmented = aug
	return nil
}

func (s *ContextStage) Rollback(context.Context, *PipelineContext) {}

// FailurePolicy is the static fallback for callers that don't go through
// the orchestrator's DynamicPolicyStage path; PolicyFor is authoritative.
func (s *ContextStage) FailurePolicy() FailurePolicy { return PolicyFatal }

// PolicyFor implements pipeline.DynamicPolicyStage: invalid identity fails
// the turn, cache faults degrade to assembling without the cache.
func (s *ContextStage) PolicyFor(err error) FailurePolicy {
	switch gatewayerr.KindOf(err) {
	case gatewayerr.CacheUnavailable:
		return PolicyWarnAndContinue
	default:
		return PolicyFatal
	}
}

// --- tieredFCStage: warn-and-continue (no error path today) ---------------

// TieredFCStage decides tool-use necessity, cost tier, and tool-stripping
// per §4.4.
type TieredFCStage struct {
	Engine *tieredfc.Engine
}

func (s *TieredFCStage) Name() string { return "tieredFC" }

func (s *TieredFCStage) Run(ctx context.Context, pc *PipelineContext) error {
	if s.Engine == nil {
		return nil
	}
	slider := pc.Flags.SliderConfig
	if slider == 0 {
		slider = 50
	}
	pc.TieredDecision = s.Engine.Decide(ctx, lastUserMessage(pc.Messages), len(pc.Tools), slider)
	if pc.TieredDecision.StripTools {
		pc.Tools = nil
	}
	return nil
}

func (s *TieredFCStage) Rollback(context.Context, *PipelineContext) {}
func (s *TieredFCStage) FailurePolicy() FailurePolicy                { return PolicyWarnAndContinue }

// --- routeStage: fatal ------------------------------------------------

// RouteStage picks the model to dispatch to, per §4.3. When the tiered-FC
// decision already pinned a model, routing is skipped and that model wins.
type RouteStage struct {
	Catalog *router.Catalog
}

func (s *RouteStage) Name() string { return "route" }

func (s *RouteStage) Run(ctx context.Context, pc *PipelineContext) error {
	if pc.TieredDecision.Model != "" {
		pc.ModelID = pc.TieredDecision.Model
		return nil
	}

	msgs := make([]router.Message, 0, len(pc.Messages))
	for _, m := range pc.Messages {
		msgs = append(msgs, router.Message{Content: m.Content, HasImage: m.HasImage})
	}
	req := router.Request{
		Messages:      msgs,
		ToolCount:     len(pc.Tools),
		QualityWeight: pc.Flags.QualityWeight,
		CostWeight:    pc.Flags.CostWeight,
	}
	decision, err := router.Route(s.Catalog, req)
	if err != nil {
		return err
	}
	pc.RouteDecision = decision
	pc.ModelID = decision.Model.ID
	return nil
}

func (s *RouteStage) Rollback(context.Context, *PipelineContext) {}
func (s *RouteStage) FailurePolicy() FailurePolicy                { return PolicyFatal }

// --- llmStage: fatal ----------------------------------------------------

// LLMStage dispatches the assembled request to the provider manager, per
// §4.5.
type LLMStage struct {
	Manager *llm.Manager
}

func (s *LLMStage) Name() string { return "llm" }

func (s *LLMStage) Run(ctx context.Context, pc *PipelineContext) error {
	req := llm.Request{
		Model:    pc.ModelID,
		Messages: buildRequestMessages(pc),
		Tools:    buildToolSchemas(pc.Tools),
		User:     pc.UserID,
	}
	resp, err := s.Manager.Complete(ctx, req)
	if err != nil {
		return err
	}
	pc.Response = resp
	return nil
}

func (s *LLMStage) Rollback(context.Context, *PipelineContext) {}
func (s *LLMStage) FailurePolicy() FailurePolicy                { return PolicyFatal }

// --- toolExecStage: fatal -------------------------------------------------

// ToolExecStage implements §4.7's execution-time re-check. MCPStage already
// filters the catalog offered to the model, but a model can still emit a
// call for a tool it remembers from an earlier turn or hallucinates
// outright, so every tool call the provider actually returned is
// re-authorized and invoked here, before the turn is persisted. A denial at
// this point (the user lost access mid-turn, or never had it) fails the
// turn with ToolDenied rather than persisting a call that was never run.
type ToolExecStage struct {
	Registry *mcp.Registry
}

func (s *ToolExecStage) Name() string { return "toolexec" }

func (s *ToolExecStage) Run(ctx context.Context, pc *PipelineContext) error {
	if s.Registry == nil || pc.Response == nil || len(pc.Response.Message.ToolCalls) == 0 {
		return nil
	}
	results := make([]mcpclient.Result, len(pc.Response.Message.ToolCalls))
	for i, tc := range pc.Response.Message.ToolCalls {
		result, err := s.Registry.Execute(ctx, pc.User, tc.Name, tc.Args)
		if err != nil {
			return err
		}
		results[i] = result
	}
	pc.ToolResults = results
	return nil
}

func (s *ToolExecStage) Rollback(context.Context, *PipelineContext) {}
func (s *ToolExecStage) FailurePolicy() FailurePolicy                { return PolicyFatal }

// --- persistStage: fatal -------------------------------------------------

// PersistStage appends the completed turn to the chat store, per §6's
// append-only transcript model. Rollback marks the turn NotPersisted rather
// than deleting, since the append-only log is never rewritten.
type PersistStage struct {
	Chat persistence.ChatStore
}

func (s *PersistStage) Name() string { return "persist" }

func (s *PersistStage) Run(ctx context.Context, pc *PipelineContext) error {
	if pc.Response == nil {
		return nil
	}
	turn := persistence.Turn{
		SessionID: pc.SessionID,
		Role:      persistence.RoleAssistant,
		Content:   pc.Response.Message.Content,
		Model:     pc.ModelID,
		CreatedAt: time.Now(),
	}
	for i, tc := range pc.Response.Message.ToolCalls {
		rec := persistence.ToolCallRecord{ID: tc.ID, Name: tc.Name, Args: string(tc.Args)}
		if i < len(pc.ToolResults) {
			rec.Result = pc.ToolResults[i].Text
		}
		turn.ToolCalls = append(turn.ToolCalls, rec)
	}
	saved, err := s.Chat.AppendTurn(ctx, turn)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.PersistFailed, "append turn failed", err)
	}
	pc.PersistedTurn = saved
	return nil
}

func (s *PersistStage) Rollback(ctx context.Context, pc *PipelineContext) {
	if pc == nil {
		return
	}
	pc.PersistedTurn.NotPersisted = true
}

func (s *PersistStage) FailurePolicy() FailurePolicy { return PolicyFatal }

// --- metricsStage: warn-and-continue --------------------------------

// MetricsStage records per-turn usage accounting. Failure here never
// affects whether the caller's response was already delivered.
type MetricsStage struct {
	Usage    persistence.UsageStore
	Pricing  *pricing.Service
	Region   string
	Recorder *metrics.Recorder
}

func (s *MetricsStage) Name() string { return "metrics" }

func (s *MetricsStage) Run(ctx context.Context, pc *PipelineContext) error {
	if pc.Response != nil && s.Recorder != nil {
		s.Recorder.RecordTurn(pc.ModelID, time.Since(pc.StartedAt))
		s.Recorder.RecordTokens(pc.ModelID, pc.Response.Usage.PromptTokens, pc.Response.Usage.CompletionTokens)
	}
	if s.Usage == nil || pc.Response == nil {
		return nil
	}
	if s.Pricing != nil {
		cost := s.Pricing.CalculateCost(ctx, pc.ModelID, pc.Response.Usage.PromptTokens, pc.Response.Usage.CompletionTokens, s.Region)
		observability.LoggerFrom(ctx).Debug().
			Float64("total_cost_usd", cost.TotalCost).
			Str("source", cost.Source).
			Msg("turn cost calculated")
		if s.Recorder != nil {
			s.Recorder.RecordCost(pc.ModelID, cost.Source, cost.TotalCost)
		}
	}
	usage := persistence.PromptUsage{
		SessionID:        pc.SessionID,
		UserID:           pc.UserID,
		TokensAdded:      pc.Response.Usage.TotalTokens,
		HasMCPContext:    len(pc.Tools) > 0,
		HasMemoryContext: len(pc.MemoryCtx.SessionEntries) > 0 || len(pc.MemoryCtx.Retrieved) > 0,
		MCPToolsCount:    len(pc.Tools),
		CreatedAt:        time.Now(),
	}
	if pc.PersistedTurn.ID != "" {
		usage.MessageID = pc.PersistedTurn.ID
	}
	if err := s.Usage.RecordUsage(ctx, usage); err != nil {
		return gatewayerr.Wrap(gatewayerr.Internal, "usage recording failed", err)
	}
	return nil
}

func (s *MetricsStage) Rollback(context.Context, *PipelineContext) {}
func (s *MetricsStage) FailurePolicy() FailurePolicy                { return PolicyWarnAndContinue }

// --- shared helpers --------------------------------------------------------

func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func buildRequestMessages(pc *PipelineContext) []llm.Message {
	if pc.Augmented == nil {
		out := make([]llm.Message, 0, len(pc.Messages))
		for _, m := range pc.Messages {
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
		return out
	}

	out := make([]llm.Message, 0, len(pc.Augmented.Tier1)+len(pc.Augmented.Tier2)+2)
	if pc.Augmented.SystemPrompt != "" {
		out = append(out, llm.Message{Role: "system", Content: pc.Augmented.SystemPrompt})
	}
	if len(pc.Augmented.Tier3) > 0 {
		out = append(out, llm.Message{Role: "system", Content: strings.Join(pc.Augmented.Tier3, "\n")})
	}
	for _, m := range pc.Augmented.Tier2 {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	for _, m := range pc.Augmented.Tier1 {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func buildToolSchemas(tools []mcp.ToolDescriptor) []llm.ToolSchema {
	if len(tools) == 0 {
		return nil
	}
	out := make([]llm.ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, llm.ToolSchema{
			Name:        t.ID,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return out
}
