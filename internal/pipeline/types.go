// Package pipeline implements the turn orchestrator of SPEC_FULL.md §4.1: a
// fixed sequence of stages run against one PipelineContext per turn, with
// best-effort reverse rollback on fatal failure and a single FIFO event
// stream per turn.
package pipeline

import (
	"context"
	"time"

	gwcontext "relaycore/internal/context"
	"relaycore/internal/llm"
	"relaycore/internal/mcp"
	mcpclient "relaycore/internal/mcp/client"
	"relaycore/internal/memory"
	"relaycore/internal/persistence"
	"relaycore/internal/router"
	"relaycore/internal/tieredfc"
)

// FailurePolicy is a stage's declared response to its own error.
type FailurePolicy string

const (
	PolicyFatal           FailurePolicy = "fatal"
	PolicyWarnAndContinue FailurePolicy = "warn-and-continue"
	PolicySkipDownstream  FailurePolicy = "skip-downstream"
)

// Flags are the per-turn feature toggles from the primary turn interface in
// SPEC_FULL.md §6.
type Flags struct {
	EnableMemory  bool
	EnableRAG     bool
	EnableMCP     bool
	SliderConfig  int // 0-100, tieredfc tier selector; 0 means "not set", treated as 50
	CacheEnabled  bool
	QualityWeight float64
	CostWeight    float64
}

// Message is one inbound chat turn, prior to any stage processing.
type Message struct {
	Role     string
	Content  string
	HasImage bool
}

// PipelineContext is the mutable state threaded through every stage for one
// turn. Stages read what earlier stages populated and write their own
// section; no stage reaches past its own concerns into another's fields.
type PipelineContext struct {
	UserID    string
	SessionID string
	Messages  []Message
	Flags     Flags

	// authStage
	User persistence.User

	// memoryStage
	MemoryCtx memory.Context

	// mcpStage
	Tools []mcp.ToolDescriptor

	// contextStage
	Augmented *gwcontext.AugmentedContext

	// tieredFCStage
	TieredDecision tieredfc.Decision

	// routeStage
	RouteDecision *router.Decision
	ModelID       string

	// llmStage
	Response *llm.Response

	// toolExecStage; index-aligned with Response.Message.ToolCalls
	ToolResults []mcpclient.Result

	// persistStage
	PersistedTurn persistence.Turn

	// bookkeeping
	StartedAt time.Time
	Events    chan Event
	Warnings  []string
}

// EventKind tags one item in the turn's event stream.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventToolCallDelta EventKind = "tool_call_delta"
	EventToolResult    EventKind = "tool_result"
	EventStageStatus   EventKind = "stage_status"
	EventWarning       EventKind = "warning"
	EventDone          EventKind = "done"
)

// Event is one item in the orchestrator's single-producer/multi-consumer
// stream. Consumers that stop reading never block the producer: Run sends
// on a buffered channel and drops events rather than deadlock a turn that
// nobody is listening to anymore (see Orchestrator.emit).
type Event struct {
	Kind    EventKind
	Stage   string
	Text    string
	Tool    *llm.ToolCall
	Message string
	Err     error

	// populated on EventDone
	FinishReason llm.FinishReason
	Usage        llm.Usage
	ModelID      string
}

// Stage is one named unit of work in the fixed pipeline
// [auth, memory, mcp, context, tieredFC, route, llm, toolexec, persist,
// metrics].
type Stage interface {
	Name() string
	Run(ctx context.Context, pc *PipelineContext) error
	Rollback(ctx context.Context, pc *PipelineContext)
	FailurePolicy() FailurePolicy
}

// DynamicPolicyStage is implemented by stages whose failure policy depends
// on the error kind rather than being fixed (the context-assembly stage:
// invalid identity is fatal, cache faults are not). The orchestrator
// consults PolicyFor instead of FailurePolicy whenever a stage implements
// this interface.
type DynamicPolicyStage interface {
	Stage
	PolicyFor(err error) FailurePolicy
}
