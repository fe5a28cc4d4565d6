package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/voxd/internal/delegate"
)

// Server is one connected MCP server and the delegates it contributed.
type Server struct {
	Name      string
	client    *mcpclient.Client
	connected atomic.Bool
	delegates []string
}

// Connect launches a stdio MCP server, lists its tools, and registers
// each as a delegate under "{name}__{tool}".
func Connect(ctx context.Context, name, command string, args []string, env map[string]string, table *delegate.Table) (*Server, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	client, err := mcpclient.NewStdioMCPClient(command, envList, args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", name, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "voxd", Version: "0.1.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", name, err)
	}

	toolsResp, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("list tools on %s: %w", name, err)
	}

	srv := &Server{Name: name, client: client}
	srv.connected.Store(true)

	for _, tool := range toolsResp.Tools {
		bd := NewBridgeDelegate(name, tool, client, name, 0, &srv.connected)
		table.Register(bd)
		srv.delegates = append(srv.delegates, bd.Name())
	}

	slog.Info("mcp server connected", "server", name, "tools", len(srv.delegates))
	return srv, nil
}

// Delegates returns the registered delegate names from this server.
func (s *Server) Delegates() []string {
	return append([]string(nil), s.delegates...)
}

// Close disconnects the server and unregisters its delegates.
func (s *Server) Close(table *delegate.Table) {
	s.connected.Store(false)
	for _, name := range s.delegates {
		table.Unregister(name)
	}
	s.client.Close()
	slog.Info("mcp server disconnected", "server", s.Name)
}
