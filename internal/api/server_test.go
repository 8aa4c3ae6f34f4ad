package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/pipeline"
)

type stubStage struct {
	name string
	run  func(ctx context.Context, pc *pipeline.PipelineContext) error
}

func (s *stubStage) Name() string { return s.name }
func (s *stubStage) Run(ctx context.Context, pc *pipeline.PipelineContext) error {
	return s.run(ctx, pc)
}
func (s *stubStage) Rollback(context.Context, *pipeline.PipelineContext) {}
func (s *stubStage) FailurePolicy() pipeline.FailurePolicy               { return pipeline.PolicyFatal }

func TestHandleTurn_Success(t *testing.T) {
	stage := &stubStage{name: "noop", run: func(ctx context.Context, pc *pipeline.PipelineContext) error {
		pc.ModelID = "fake-model"
		return nil
	}}

	o := pipeline.New(nil, stage)
	srv := NewServer(o, func(r *http.Request) (string, error) { return "u1", nil })

	body, _ := json.Marshal(map[string]any{
		"session_id": "s1",
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.handleTurn(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp turnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "fake-model", resp.ModelID)
}

func TestHandleTurn_IdentifyFailureReturnsBadRequest(t *testing.T) {
	o := pipeline.New(nil)
	srv := NewServer(o, func(r *http.Request) (string, error) {
		return "", context.DeadlineExceeded
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	srv.handleTurn(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
