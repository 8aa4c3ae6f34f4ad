// Package api exposes the gateway's primary turn interface over HTTP, per
// SPEC_FULL.md §6: a synchronous turn endpoint, a streaming variant that
// relays the pipeline's event stream as Server-Sent Events, and health and
// metrics surfaces.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"relaycore/internal/gatewayerr"
	"relaycore/internal/pipeline"
	"relaycore/internal/version"
)

// Server wires the orchestrator to HTTP. Identify resolves the caller's
// user id for a request; the gateway's default is a trusted-header scheme
// (see api.IdentifyFromHeader), leaving any login handshake to whatever
// fronts this service.
type Server struct {
	Orchestrator *pipeline.Orchestrator
	Identify     func(r *http.Request) (string, error)
	TurnTimeout  time.Duration
}

// NewServer builds a Server. A zero TurnTimeout defaults to 2 minutes.
func NewServer(o *pipeline.Orchestrator, identify func(r *http.Request) (string, error)) *Server {
	return &Server{Orchestrator: o, Identify: identify, TurnTimeout: 2 * time.Minute}
}

// Routes registers the gateway's HTTP surface on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("POST /v1/turns/stream", s.handleTurnStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

type turnRequest struct {
	SessionID string             `json:"session_id"`
	Messages  []pipeline.Message `json:"messages"`
	Flags     pipeline.Flags     `json:"flags"`
}

type turnResponse struct {
	Content      string   `json:"content"`
	FinishReason string   `json:"finish_reason"`
	ModelID      string   `json:"model_id"`
	Usage        usageDTO `json:"usage"`
	Warnings     []string `json:"warnings,omitempty"`
}

type usageDTO struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) buildContext(r *http.Request) (*pipeline.PipelineContext, error) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	userID, err := s.Identify(r)
	if err != nil {
		return nil, err
	}
	return &pipeline.PipelineContext{
		UserID:    userID,
		SessionID: req.SessionID,
		Messages:  req.Messages,
		Flags:     req.Flags,
	}, nil
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	pc, err := s.buildContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout())
	defer cancel()

	err = s.Orchestrator.Run(ctx, pc)
	if err != nil {
		log.Error().Err(err).Str("user_id", pc.UserID).Msg("turn failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	resp := turnResponse{ModelID: pc.ModelID, Warnings: pc.Warnings}
	if pc.Response != nil {
		resp.Content = pc.Response.Message.Content
		resp.FinishReason = string(pc.Response.FinishReason)
		resp.Usage = usageDTO{
			PromptTokens:     pc.Response.Usage.PromptTokens,
			CompletionTokens: pc.Response.Usage.CompletionTokens,
			TotalTokens:      pc.Response.Usage.TotalTokens,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleTurnStream relays pc.Events as Server-Sent Events while the turn
// runs in the background. A client that disconnects simply stops reading;
// the orchestrator's non-blocking emit means the turn still completes.
func (s *Server) handleTurnStream(w http.ResponseWriter, r *http.Request) {
	pc, err := s.buildContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout())
	defer cancel()

	pc.Events = make(chan pipeline.Event, 64)
	events := pc.Events

	done := make(chan error, 1)
	go func() { done <- s.Orchestrator.Run(ctx, pc) }()

	for ev := range events {
		payload, _ := json.Marshal(ev)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
		flusher.Flush()
	}
	<-done
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) turnTimeout() time.Duration {
	if s.TurnTimeout <= 0 {
		return 2 * time.Minute
	}
	return s.TurnTimeout
}

// statusFor maps a turn's failure kind to an HTTP status, per the same
// taxonomy gatewayerr.Kind.Fatal() uses to decide the pipeline's own
// fatal/non-fatal split.
func statusFor(err error) int {
	switch gatewayerr.KindOf(err) {
	case gatewayerr.InvalidInput:
		return http.StatusBadRequest
	case gatewayerr.AuthDenied, gatewayerr.ToolDenied:
		return http.StatusForbidden
	case gatewayerr.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case gatewayerr.ProviderUnavailable, gatewayerr.CacheUnavailable, gatewayerr.VectorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
