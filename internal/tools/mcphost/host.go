// Package mcphost connects to external Model Context Protocol servers and
// exposes their tools as [tools.Tool] values, so a deployment can add
// analyzers (a domain lexicon, a second recognizer, a name register) without
// changing scribefix.
//
// Typical usage:
//
//	h := mcphost.New()
//	defer h.Close()
//	if err := h.ConnectAll(ctx, cfg.MCP.Servers); err != nil { ... }
//	for _, t := range h.Tools() {
//	    dispatcher.Register(t)
//	}
//
// It uses the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribefix/internal/tools"
)

// defaultMaxDuration bounds external tool calls that declare no limit.
const defaultMaxDuration = 15 * time.Second

// remoteTool is one tool discovered on a server.
type remoteTool struct {
	spec       tools.Spec
	serverName string
}

// Host manages connections to MCP servers. The zero value is NOT usable;
// create instances with [New]. All methods are safe for concurrent use.
type Host struct {
	mu       sync.RWMutex
	tools    map[string]remoteTool
	order    []string
	sessions map[string]*mcpsdk.ClientSession

	// client is reused across all server connections. The SDK allows a
	// single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// New creates and returns a ready-to-use Host.
func New() *Host {
	return &Host{
		tools:    make(map[string]remoteTool),
		sessions: make(map[string]*mcpsdk.ClientSession),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "scribefix", Version: "1.0.0"},
			nil,
		),
	}
}

// ConnectAll connects to every server concurrently. It fails if any server
// cannot be connected; servers connected before the failure stay registered
// and are released by [Host.Close].
func (h *Host) ConnectAll(ctx context.Context, cfgs []ServerConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range cfgs {
		g.Go(func() error {
			return h.RegisterServer(gctx, cfg)
		})
	}
	return g.Wait()
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. If a server with the same Name is already registered, the
// old connection is closed and replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("mcphost: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcphost: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcphost: stdio server %q requires a non-empty command", cfg.Name)
		}
		// The subprocess must outlive ctx, which only bounds the handshake.
		cmd := exec.Command(executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcphost: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcphost: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []remoteTool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcphost: list tools of server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, remoteTool{
			spec:       buildSpec(tool.Name, tool.Description, schemaToMap(tool.InputSchema)),
			serverName: cfg.Name,
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.sessions[cfg.Name]; ok {
		_ = old.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
		h.order = slices.DeleteFunc(h.order, func(name string) bool {
			_, ok := h.tools[name]
			return !ok
		})
	}
	h.sessions[cfg.Name] = session

	for _, t := range discovered {
		if prev, ok := h.tools[t.spec.Name]; ok {
			slog.Warn("mcp tool name collision", "tool", t.spec.Name, "kept", prev.serverName, "dropped", cfg.Name)
			continue
		}
		h.tools[t.spec.Name] = t
		h.order = append(h.order, t.spec.Name)
	}
	slog.Info("mcp server connected", "server", cfg.Name, "transport", string(cfg.Transport), "tools", len(discovered))
	return nil
}

// Tools returns an adapter per discovered tool, in discovery order.
func (h *Host) Tools() []tools.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]tools.Tool, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, &toolAdapter{host: h, remote: h.tools[name]})
	}
	return out
}

// call routes a tool call to the owning server session.
func (h *Host) call(ctx context.Context, t remoteTool, params map[string]any) (string, error) {
	h.mu.RLock()
	session, ok := h.sessions[t.serverName]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcp server %q is not connected: %w", t.serverName, tools.ErrUnavailable)
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.spec.Name,
		Arguments: params,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call %q: %w", t.spec.Name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		msg := sb.String()
		if msg == "" {
			msg = "tool reported an error"
		}
		return "", errors.New(msg)
	}
	return sb.String(), nil
}

// Close shuts down all server connections. After Close returns the Host
// must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, s := range h.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcphost: close server %q: %w", name, err))
		}
		delete(h.sessions, name)
	}
	h.tools = make(map[string]remoteTool)
	h.order = nil
	return errors.Join(errs...)
}

// toolAdapter exposes a remote tool as a [tools.Tool].
type toolAdapter struct {
	host   *Host
	remote remoteTool
}

func (a *toolAdapter) Spec() tools.Spec { return a.remote.spec }

func (a *toolAdapter) Execute(ctx context.Context, params map[string]any, _ tools.Context) (string, error) {
	return a.host.call(ctx, a.remote, params)
}

var _ tools.Tool = (*toolAdapter)(nil)

// buildSpec derives a tool spec from an MCP tool's name, description and
// JSON input schema. Required parameters come first, then the rest by name.
func buildSpec(name, description string, schema map[string]any) tools.Spec {
	spec := tools.Spec{
		Name:        name,
		Description: strings.TrimSpace(stripLatencyHints(description)),
		MaxDuration: defaultMaxDuration,
	}

	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	names := make([]string, 0, len(props))
	for n := range props {
		if n == "_metadata" {
			continue
		}
		names = append(names, n)
	}
	slices.SortFunc(names, func(a, b string) int {
		if required[a] != required[b] {
			if required[a] {
				return -1
			}
			return 1
		}
		return cmp.Compare(a, b)
	})
	for _, n := range names {
		p, _ := props[n].(map[string]any)
		typ, _ := p["type"].(string)
		desc, _ := p["description"].(string)
		spec.Params = append(spec.Params, tools.Param{Name: n, Type: typ, Description: desc})
	}

	if maxMs := latencyHint(schema, description); maxMs > 0 {
		spec.MaxDuration = time.Duration(maxMs) * time.Millisecond
	}
	return spec
}

// latencyHint reads max_duration_ms from the schema's "_metadata" property
// or from a JSON object embedded in the description.
func latencyHint(schema map[string]any, description string) int64 {
	if props, ok := schema["properties"].(map[string]any); ok {
		if meta, ok := props["_metadata"].(map[string]any); ok {
			if v := extractInt64(meta, "max_duration_ms"); v > 0 {
				return v
			}
		}
	}
	if m := embeddedJSON(description); m != nil {
		return extractInt64(m, "max_duration_ms")
	}
	return 0
}

// embeddedJSON returns the JSON object embedded in s, if any.
func embeddedJSON(s string) map[string]any {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &m); err != nil {
		return nil
	}
	return m
}

// stripLatencyHints removes an embedded JSON hint object from a description.
func stripLatencyHints(s string) string {
	if embeddedJSON(s) == nil {
		return s
	}
	return s[:strings.Index(s, "{")] + s[strings.LastIndex(s, "}")+1:]
}

// extractInt64 retrieves an integer value from a map by key.
func extractInt64(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
