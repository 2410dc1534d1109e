//go:build !mcp

// Package mcpserver exports the local tool registry over the Model Context
// Protocol. Without the mcp build tag it compiles to a stub so the rest of
// the repo does not pull the SDK.
package mcpserver

import (
	"context"
	"errors"

	"tandem/pkg/tools"
)

// Server is the no-op stand-in when the mcp build tag is not set.
type Server struct{}

// New creates a server handle (no-op without the mcp tag).
func New(name, version string) *Server { return &Server{} }

// RegisterTools would export the registry's tools (no-op without the mcp tag).
func (s *Server) RegisterTools(*tools.Registry) error { return nil }

// Run refuses to serve without the mcp tag.
func (s *Server) Run(context.Context) error {
	return errors.New("mcpserver: not enabled in this build, rebuild with -tags mcp")
}
