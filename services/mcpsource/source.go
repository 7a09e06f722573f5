package mcpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"studybuddy/logger"
	"studybuddy/services/agent"
	"studybuddy/services/llm"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName    = "studybuddy"
	clientVersion = "1.0.0"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// toolClient is the part of the MCP client a Source uses.
type toolClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Source exposes the tools of one MCP server over streamable HTTP.
type Source struct {
	name   string
	client toolClient
}

// NewSource connects to the server at url and performs the MCP handshake.
func NewSource(ctx context.Context, name, url string) (*Source, error) {
	logger.Log.Infof("Connecting to MCP server %s at %s", name, url)

	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", name, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client for %s: %w", name, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}

	info, err := c.Initialize(ctx, req)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server %s: %w", name, err)
	}

	logger.Log.Infof("Successfully connected to MCP server %s (%s %s)", name, info.ServerInfo.Name, info.ServerInfo.Version)
	return newSource(name, c), nil
}

func newSource(name string, c toolClient) *Source {
	return &Source{name: name, client: c}
}

func (s *Source) Name() string {
	return s.name
}

// ListTools asks the server for its current tool list.
func (s *Source) ListTools(ctx context.Context) ([]agent.AgentTool, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools from %s: %w", s.name, err)
	}

	tools := make([]agent.AgentTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, &remoteTool{source: s, tool: t})
	}
	logger.Log.Debugf("MCP server %s offers %d tools", s.name, len(tools))
	return tools, nil
}

func (s *Source) Close() error {
	return s.client.Close()
}

// ToolName is the name a remote tool is offered under.
func ToolName(server, tool string) string {
	name := fmt.Sprintf("mcp_%s_%s", server, tool)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

type remoteTool struct {
	source *Source
	tool   mcp.Tool
}

func (r *remoteTool) Name() string {
	return ToolName(r.source.name, r.tool.Name)
}

func (r *remoteTool) Description() string {
	if r.tool.Description == "" {
		return fmt.Sprintf("%s (from %s)", r.tool.Name, r.source.name)
	}
	return r.tool.Description
}

func (r *remoteTool) InputSchema() llm.ToolSchema {
	props := r.tool.InputSchema.Properties
	if props == nil {
		props = map[string]any{}
	}
	return llm.ToolSchema{Properties: props, Required: r.tool.InputSchema.Required}
}

// RequiresConfirmation gates tools the server marks as destructive.
func (r *remoteTool) RequiresConfirmation() bool {
	hint := r.tool.Annotations.DestructiveHint
	return hint != nil && *hint
}

func (r *remoteTool) Call(ctx context.Context, input string) (string, error) {
	var args map[string]any
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", &agent.ValidationError{Tool: r.Name(), Err: err}
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = r.tool.Name
	req.Params.Arguments = args

	result, err := r.source.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call to %s on %s failed: %w", r.tool.Name, r.source.name, err)
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "remote tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}
