//go:build mcp

// Package mcpserver exports the local tool registry over the Model Context
// Protocol, speaking stdio to an MCP client.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"tandem/pkg/tools"
)

// Server wraps an MCP server whose tools are the local registry.
type Server struct {
	srv *mcp.Server
}

// New creates an MCP server identifying itself with the given name and
// version.
func New(name, version string) *Server {
	return &Server{srv: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)}
}

// RegisterTools exports every registry tool. Calls go through the same
// validation and panic containment as local invocations.
func (s *Server) RegisterTools(reg *tools.Registry) error {
	for _, name := range reg.Names() {
		t, ok := reg.Resolve(name)
		if !ok {
			continue
		}
		var schema *jsonschema.Schema
		if len(t.Descriptor.InputSchema) > 0 {
			schema = new(jsonschema.Schema)
			if err := json.Unmarshal(t.Descriptor.InputSchema, schema); err != nil {
				return fmt.Errorf("mcpserver: schema for %q: %w", name, err)
			}
		}
		tool := t
		s.srv.AddTool(&mcp.Tool{
			Name:        t.Descriptor.Name,
			Description: t.Descriptor.Description,
			InputSchema: schema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return errorResult("arguments are not valid JSON: " + err.Error()), nil
				}
			}
			out, err := tools.SafeInvoke(ctx, tool, args)
			if err != nil {
				return errorResult(err.Error()), nil
			}
			b, err := json.Marshal(out)
			if err != nil {
				return errorResult("encoding tool result: " + err.Error()), nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
			}, nil
		})
	}
	return nil
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
