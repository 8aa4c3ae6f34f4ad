package client

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/config"
)

type recordingTransport struct {
	lastReq *http.Request
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.lastReq = req
	return &http.Response{StatusCode: 200, Body: http.NoBody, Header: make(http.Header)}, nil
}

func TestBuildCommandRejectsAbsolutePath(t *testing.T) {
	_, err := buildCommand(config.MCPServerConfig{Command: "/usr/bin/tool"})
	require.Error(t, err)
}

func TestBuildCommandRejectsTraversal(t *testing.T) {
	_, err := buildCommand(config.MCPServerConfig{Command: "../../tool"})
	require.Error(t, err)
}

func TestBuildCommandAcceptsBareName(t *testing.T) {
	cmd, err := buildCommand(config.MCPServerConfig{Command: "tool", Args: []string{"--flag"}})
	require.NoError(t, err)
	require.Equal(t, []string{"tool", "--flag"}, cmd.Args)
}

func TestHeaderRoundTripperSetsBearerAndAccept(t *testing.T) {
	base := &recordingTransport{}
	rt := &headerRoundTripper{base: base, bearer: "tok", headers: map[string]string{"X-Custom": "v"}}

	req, err := http.NewRequest(http.MethodPost, "http://example.com", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)

	require.Equal(t, "Bearer tok", base.lastReq.Header.Get("Authorization"))
	require.Equal(t, "v", base.lastReq.Header.Get("X-Custom"))
	require.Equal(t, "application/json, text/event-stream", base.lastReq.Header.Get("Accept"))
}
