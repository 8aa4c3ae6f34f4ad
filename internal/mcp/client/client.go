// Package client wraps one connection to an MCP server over stdio or
// Streamable HTTP, grounded on the teacher's internal/mcpclient.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"relaycore/internal/config"
	"relaycore/internal/version"
)

// Tool is one tool exposed by a connected server, before tag indexing.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Result is a normalized MCP tool-call result.
type Result struct {
	OK         bool
	Text       string
	Structured any
}

// Session wraps one connected MCP server.
type Session struct {
	ServerID string
	session  *mcppkg.ClientSession
}

// Connect dials an MCP server over stdio (Command) or Streamable HTTP (URL).
func Connect(ctx context.Context, srv config.MCPServerConfig) (*Session, error) {
	cl := mcppkg.NewClient(&mcppkg.Implementation{Name: "relaycore", Version: version.Version}, nil)

	var (
		session *mcppkg.ClientSession
		err     error
	)
	switch {
	case strings.TrimSpace(srv.Command) != "":
		cmd, cmdErr := buildCommand(srv)
		if cmdErr != nil {
			return nil, cmdErr
		}
		session, err = cl.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case strings.TrimSpace(srv.URL) != "":
		transport := &mcppkg.StreamableClientTransport{Endpoint: srv.URL, HTTPClient: buildHTTPClient(srv)}
		session, err = cl.Connect(ctx, transport, nil)
	default:
		return nil, fmt.Errorf("mcp server %q has neither command nor url", srv.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
	}
	return &Session{ServerID: srv.ID, session: session}, nil
}

// buildCommand rejects absolute paths and traversal so a server definition
// can only launch a binary resolved off PATH, never an arbitrary filesystem
// path injected through config.
func buildCommand(srv config.MCPServerConfig) (*exec.Cmd, error) {
	clean := filepath.Clean(srv.Command)
	if clean != srv.Command || filepath.IsAbs(clean) || strings.Contains(clean, string(os.PathSeparator)+"..") {
		return nil, fmt.Errorf("invalid mcp server command path: %q", srv.Command)
	}
	cmd := exec.Command(clean, srv.Args...)
	if len(srv.Env) > 0 {
		env := os.Environ()
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	return cmd, nil
}

func buildHTTPClient(srv config.MCPServerConfig) *http.Client {
	rt := &headerRoundTripper{base: http.DefaultTransport, headers: srv.Headers, bearer: strings.TrimSpace(srv.BearerToken)}
	return &http.Client{Transport: rt, Timeout: 60 * time.Second}
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
	bearer  string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if t.bearer != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	return t.base.RoundTrip(r)
}

// ListTools pages through the server's tool catalog.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	var out []Tool
	for t, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return out, err
		}
		out = append(out, Tool{Name: t.Name, Description: t.Description, InputSchema: decodeSchema(t.InputSchema)})
	}
	return out, nil
}

func decodeSchema(raw any) map[string]any {
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(b, &m) != nil {
		return nil
	}
	return m
}

// CallTool invokes a named tool with JSON-object arguments.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.session.CallTool(ctx, &mcppkg.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return Result{}, err
	}
	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcppkg.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return Result{OK: !res.IsError, Text: strings.Join(texts, "\n"), Structured: res.StructuredContent}, nil
}

// Close ends the underlying MCP session.
func (s *Session) Close() error { return s.session.Close() }
