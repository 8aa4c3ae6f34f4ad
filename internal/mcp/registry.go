package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"

	"relaycore/internal/cache"
	"relaycore/internal/config"
	"relaycore/internal/gatewayerr"
	"relaycore/internal/mcp/client"
	"relaycore/internal/observability"
	"relaycore/internal/persistence"
)

const serverStateTTL = 24 * time.Hour

// Registry discovers configured MCP servers, indexes their tools, and
// answers policy-filtered tool listing and execution requests.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*client.Session
	servers  map[string]*Server
	schemas  map[string]*jsonschema.Schema // ToolDescriptor.ID -> compiled input schema

	policy *PolicyResolver
	store  persistence.PolicyStore
	cache  *cache.Client
}

func NewRegistry(store persistence.PolicyStore, c *cache.Client) *Registry {
	return &Registry{
		sessions: map[string]*client.Session{},
		servers:  map[string]*Server{},
		schemas:  map[string]*jsonschema.Schema{},
		policy:   NewPolicyResolver(store),
		store:    store,
		cache:    c,
	}
}

// Discover connects to every configured server concurrently (bounded
// fan-out via errgroup) and indexes their tools. A single server's
// connection or listing failure marks it offline/degraded rather than
// aborting discovery for the others.
func (r *Registry) Discover(ctx context.Context, servers []config.MCPServerConfig) error {
	var g errgroup.Group
	g.SetLimit(8)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			r.discoverOne(ctx, srv)
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) discoverOne(ctx context.Context, srv config.MCPServerConfig) {
	log := observability.LoggerFrom(ctx)

	enabled := srv.Enabled
	if rec, found, err := r.store.GetServer(ctx, srv.ID); err == nil && found {
		enabled = rec.Enabled
	}
	if _, err := r.store.UpsertServer(ctx, persistence.MCPServerRecord{ID: srv.ID, Name: srv.Name, Enabled: enabled}); err != nil {
		log.Warn().Err(err).Str("server", srv.ID).Msg("mcp server state persist failed")
	}
	if r.cache != nil {
		_ = r.cache.Set(ctx, "mcp:"+srv.ID+":enabled", enabled, serverStateTTL)
	}

	server := &Server{ID: srv.ID, Name: srv.Name, Enabled: enabled, Status: StatusOffline}
	if !enabled {
		r.setServer(server)
		return
	}

	sess, err := client.Connect(ctx, srv)
	if err != nil {
		log.Warn().Err(err).Str("server", srv.ID).Msg("mcp server connect failed")
		r.setServer(server)
		return
	}
	r.setSession(srv.ID, sess)

	tools, err := sess.ListTools(ctx)
	if err != nil {
		log.Warn().Err(err).Str("server", srv.ID).Msg("mcp tool listing failed")
		server.Status = StatusDegraded
		r.setServer(server)
		return
	}

	descriptors := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		d := NewToolDescriptor(srv.ID, t.Name, t.Description, t.InputSchema)
		compiled, err := compileSchema(d.ID, t.InputSchema)
		if err != nil {
			d.SchemaInvalid = true
			log.Warn().Err(err).Str("tool", d.ID).Msg("mcp tool schema invalid, indexing tags only")
		} else if compiled != nil {
			r.mu.Lock()
			r.schemas[d.ID] = compiled
			r.mu.Unlock()
		}
		descriptors = append(descriptors, d)
	}
	server.Tools = descriptors
	server.Status = StatusOnline
	r.setServer(server)
}

func compileSchema(id string, schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(id, schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func (r *Registry) setServer(s *Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[s.ID] = s
}

func (r *Registry) setSession(id string, s *client.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[id]; ok && old != s {
		_ = old.Close()
	}
	r.sessions[id] = s
}

// ToolsFor returns the tools visible to user across all configured servers,
// filtered by the §4.7 policy-resolution steps.
func (r *Registry) ToolsFor(ctx context.Context, user persistence.User) []ToolDescriptor {
	r.mu.RLock()
	servers := make([]*Server, 0, len(r.servers))
	for _, s := range r.servers {
		servers = append(servers, s)
	}
	r.mu.RUnlock()

	var out []ToolDescriptor
	for _, s := range servers {
		decision, err := r.policy.Resolve(ctx, s.ID, user)
		if err != nil {
			observability.LoggerFrom(ctx).Warn().Err(err).Str("server", s.ID).Msg("mcp policy resolution failed, denying")
			continue
		}
		if !decision.Allowed {
			continue
		}
		out = append(out, s.Tools...)
	}
	return out
}

// Execute re-checks access for toolID's server (a turn that lost access
// mid-execution fails with ToolDenied), validates arguments against the
// tool's compiled input schema when one was indexed, and invokes the tool.
func (r *Registry) Execute(ctx context.Context, user persistence.User, toolID string, rawArgs json.RawMessage) (client.Result, error) {
	r.mu.RLock()
	serverID, toolName, sess, compiled, ok := r.lookupLocked(toolID)
	r.mu.RUnlock()
	if !ok {
		return client.Result{}, gatewayerr.New(gatewayerr.ToolDenied, "unknown tool: "+toolID)
	}

	decision, err := r.policy.Resolve(ctx, serverID, user)
	if err != nil || !decision.Allowed {
		return client.Result{}, gatewayerr.New(gatewayerr.ToolDenied, "access denied for tool "+toolID)
	}

	var args map[string]any
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			// Empty-object contract: a malformed payload is replaced by an
			// empty argument object (CallTool sends a nil map as {}), never
			// passed through raw.
			observability.LoggerFrom(ctx).Warn().Err(err).Str("tool", toolID).Msg("tool arguments not valid JSON, calling with empty arguments")
			args = nil
		}
	}
	if compiled != nil {
		if err := compiled.Validate(map[string]any(args)); err != nil {
			return client.Result{}, gatewayerr.Wrap(gatewayerr.InvalidInput, "tool arguments failed schema validation", err)
		}
	}
	if sess == nil {
		return client.Result{}, gatewayerr.New(gatewayerr.ProviderUnavailable, "mcp server not connected: "+serverID)
	}
	return sess.CallTool(ctx, toolName, args)
}

func (r *Registry) lookupLocked(toolID string) (serverID, toolName string, sess *client.Session, compiled *jsonschema.Schema, ok bool) {
	for sID, s := range r.servers {
		for _, t := range s.Tools {
			if t.ID == toolID {
				return sID, t.Name, r.sessions[sID], r.schemas[t.ID], true
			}
		}
	}
	return "", "", nil, nil, false
}

// Close closes every active server session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		_ = s.Close()
	}
}
