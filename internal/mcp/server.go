// Package mcp exposes dump operations as Model Context Protocol tools over
// streamable HTTP.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/localrivet/datadumper/internal/mcp/tools"
)

const (
	serverName    = "datadumper"
	serverVersion = "1.0.0"
)

func NewServer(tc *tools.ToolContext) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	tools.RegisterDumpTools(server, tc)
	return server
}
