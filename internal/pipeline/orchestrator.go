package pipeline

import (
	"context"
	"time"

	"relaycore/internal/gatewayerr"
	"relaycore/internal/metrics"
	"relaycore/internal/observability"
)

// eventBufferSize bounds the per-turn event channel; a stalled consumer
// never blocks the producing stage beyond this much slack.
const eventBufferSize = 64

// Orchestrator runs a fixed, ordered stage list against one PipelineContext
// per turn, per SPEC_FULL.md §4.1.
type Orchestrator struct {
	stages   []Stage
	recorder *metrics.Recorder
}

// New builds an orchestrator over stages in execution order. The caller is
// expected to pass exactly [auth, memory, mcp, context, tieredFC, route,
// llm, toolexec, persist, metrics], but the orchestrator itself has no
// opinion on stage identity beyond the Stage interface. recorder may be
// nil, in which case stage outcomes are simply not exported as Prometheus
// metrics.
func New(recorder *metrics.Recorder, stages ...Stage) *Orchestrator {
	return &Orchestrator{stages: stages, recorder: recorder}
}

// Run executes the stage list sequentially against pc, emitting events on
// pc.Events. If pc.Events is nil, Run allocates it before the first stage
// runs, so a caller that wants to start draining concurrently can
// pre-allocate it themselves and read that same channel value. Run closes
// pc.Events when the turn ends. The returned error is non-nil only when a
// fatal stage failed; warn-and-continue and skip-downstream failures never
// surface as a Run error, matching "the orchestrator never re-throws across
// turns."
func (o *Orchestrator) Run(ctx context.Context, pc *PipelineContext) error {
	pc.StartedAt = time.Now()
	if pc.Events == nil {
		pc.Events = make(chan Event, eventBufferSize)
	}
	defer close(pc.Events)

	log := observability.LoggerFrom(ctx)

	var executed []Stage
	var fatalErr error

	for _, stage := range o.stages {
		select {
		case <-ctx.Done():
			fatalErr = gatewayerr.Wrap(gatewayerr.Internal, "turn canceled", ctx.Err())
			o.emit(pc, Event{Kind: EventStageStatus, Stage: stage.Name(), Message: "canceled"})
			goto rollback
		default:
		}

		o.emit(pc, Event{Kind: EventStageStatus, Stage: stage.Name(), Message: "running"})
		err := stage.Run(ctx, pc)
		if err == nil {
			executed = append(executed, stage)
			o.recordStage(stage.Name(), metrics.OutcomeOK)
			o.emit(pc, Event{Kind: EventStageStatus, Stage: stage.Name(), Message: "ok"})
			continue
		}

		kind := gatewayerr.KindOf(err)
		policy := stage.FailurePolicy()
		if dyn, ok := stage.(DynamicPolicyStage); ok {
			policy = dyn.PolicyFor(err)
		}
		switch policy {
		case PolicyFatal:
			log.Error().Err(err).Str("stage", stage.Name()).Str("kind", string(kind)).Msg("fatal stage failure")
			fatalErr = err
			o.recordStage(stage.Name(), metrics.OutcomeFatal)
			o.emit(pc, Event{Kind: EventStageStatus, Stage: stage.Name(), Message: "failed", Err: err})
			goto rollback
		case PolicySkipDownstream:
			log.Warn().Err(err).Str("stage", stage.Name()).Msg("stage failed, skipping downstream stages")
			pc.Warnings = append(pc.Warnings, stage.Name()+": "+err.Error())
			o.recordStage(stage.Name(), metrics.OutcomeWarn)
			o.emit(pc, Event{Kind: EventWarning, Stage: stage.Name(), Message: err.Error()})
			executed = append(executed, stage)
			goto done
		default: // PolicyWarnAndContinue
			log.Warn().Err(err).Str("stage", stage.Name()).Msg("non-fatal stage failure, continuing")
			pc.Warnings = append(pc.Warnings, stage.Name()+": "+err.Error())
			o.recordStage(stage.Name(), metrics.OutcomeWarn)
			o.emit(pc, Event{Kind: EventWarning, Stage: stage.Name(), Message: err.Error()})
			executed = append(executed, stage)
		}
	}

done:
	if fatalErr == nil {
		ev := Event{Kind: EventDone, FinishReason: "stop", ModelID: pc.ModelID}
		if pc.Response != nil {
			ev.FinishReason = pc.Response.FinishReason
			ev.Usage = pc.Response.Usage
		}
		o.emit(pc, ev)
		return nil
	}

rollback:
	o.rollback(ctx, executed, pc)
	o.emit(pc, Event{Kind: EventDone, FinishReason: "error", Err: fatalErr})
	return fatalErr
}

// rollback invites already-executed stages to undo their work in reverse
// order. Rollback is best-effort: a panicking or erroring stage never stops
// the remaining rollbacks from running.
func (o *Orchestrator) rollback(ctx context.Context, executed []Stage, pc *PipelineContext) {
	for i := len(executed) - 1; i >= 0; i-- {
		func(s Stage) {
			defer func() { _ = recover() }()
			s.Rollback(ctx, pc)
		}(executed[i])
	}
}

// recordStage reports one stage's outcome to the Prometheus recorder, if one
// was configured.
func (o *Orchestrator) recordStage(name string, outcome metrics.StageOutcome) {
	if o.recorder == nil {
		return
	}
	o.recorder.RecordStage(name, outcome)
}

// emit sends on pc.Events without blocking the stage beyond the channel's
// buffer: a full channel (no consumer draining it) drops the event rather
// than stall the turn.
func (o *Orchestrator) emit(pc *PipelineContext, ev Event) {
	select {
	case pc.Events <- ev:
	default:
	}
}

