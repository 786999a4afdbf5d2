package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// ExternalServerConfig describes one configured external protocol server
// (spec §6: "name, command, args[], env{}, description, tags[], enabled").
type ExternalServerConfig struct {
	Name        string            `json:"name" yaml:"name"`
	Command     string            `json:"command" yaml:"command"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
}

// ExternalServerPool maintains one cached MCP client session per configured
// server (spec §4.5: "connect (once, cached) to the configured server
// process"), and dispatches calls by remote tool id.
type ExternalServerPool struct {
	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
}

// NewExternalServerPool constructs an empty pool.
func NewExternalServerPool() *ExternalServerPool {
	return &ExternalServerPool{sessions: map[string]*mcp.ClientSession{}}
}

// Connect opens (or reuses) a session to the server named cfg.Name over a
// stdio CommandTransport.
func (p *ExternalServerPool) Connect(ctx context.Context, cfg ExternalServerConfig) (*mcp.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[cfg.Name]; ok {
		return s, nil
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	transport := &mcp.CommandTransport{Command: cmd}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "orchestratord-client-" + cfg.Name,
		Version: "1.0.0",
	}, nil)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeExternalServerUnavailable, fmt.Sprintf("connect to %q", cfg.Name), err)
	}
	p.sessions[cfg.Name] = session
	return session, nil
}

// ConnectAll opens sessions to every enabled server in configs in parallel,
// returning the names that failed to connect alongside their errors
// (spec §4.5 Discovery (c): "in parallel"); a failed connection does not
// prevent the others from succeeding.
func (p *ExternalServerPool) ConnectAll(ctx context.Context, configs []ExternalServerConfig) map[string]error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := map[string]error{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		wg.Add(1)
		go func(cfg ExternalServerConfig) {
			defer wg.Done()
			if _, err := p.Connect(ctx, cfg); err != nil {
				mu.Lock()
				failures[cfg.Name] = err
				mu.Unlock()
			}
		}(cfg)
	}
	wg.Wait()
	return failures
}

// ListRemoteTools lists every tool exposed by serverName's session and
// returns them namespaced as external_<server>_<tool> (spec §4.5).
func (p *ExternalServerPool) ListRemoteTools(ctx context.Context, serverName string) ([]Tool, error) {
	p.mu.Lock()
	session, ok := p.sessions[serverName]
	p.mu.Unlock()
	if !ok {
		return nil, ferrors.New(ferrors.CodeExternalServerUnavailable, serverName)
	}

	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeExternalServerUnavailable, fmt.Sprintf("list tools on %q", serverName), err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, rt := range result.Tools {
		tools = append(tools, Tool{
			Name:        fmt.Sprintf("external_%s_%s", serverName, rt.Name),
			Kind:        KindExternalProtocolServer,
			Description: rt.Description,
			ExternalServer: &ExternalServerInvocation{
				ServerName:   serverName,
				RemoteToolID: rt.Name,
			},
			TrackUsage: true,
		})
	}
	return tools, nil
}

// ExternalServerInvoker dispatches KindExternalProtocolServer tools by
// forwarding the call to the owning server's cached session.
type ExternalServerInvoker struct {
	Pool *ExternalServerPool
}

// Invoke forwards input as the remote tool's arguments and decodes the
// first text content block of the result as JSON when possible, falling
// back to {"text": "..."} for non-JSON payloads.
func (e *ExternalServerInvoker) Invoke(ctx context.Context, tool Tool, input map[string]any) (map[string]any, error) {
	if tool.ExternalServer == nil {
		return nil, ferrors.New(ferrors.CodeInvocationFailed, "tool has no external_server descriptor")
	}
	e.Pool.mu.Lock()
	session, ok := e.Pool.sessions[tool.ExternalServer.ServerName]
	e.Pool.mu.Unlock()
	if !ok {
		return nil, ferrors.New(ferrors.CodeExternalServerUnavailable, tool.ExternalServer.ServerName)
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool.ExternalServer.RemoteToolID,
		Arguments: input,
	})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeInvocationFailed, fmt.Sprintf("external tool %q", tool.Name), err)
	}
	if result.IsError {
		return nil, ferrors.New(ferrors.CodeInvocationFailed, textOf(result))
	}
	return decodeResult(result), nil
}

func textOf(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func decodeResult(result *mcp.CallToolResult) map[string]any {
	text := textOf(result)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"text": text}
}
