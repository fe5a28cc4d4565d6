// Package mcp bridges tools exposed by MCP servers into delegates the
// reasoning loop can invoke.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/voxd/internal/delegate"
)

// BridgeDelegate adapts one MCP tool into the delegate.Delegate interface.
// Invocations are forwarded to the MCP server via the client.
type BridgeDelegate struct {
	serverName     string
	toolName       string // original MCP tool name
	registeredName string // may include prefix: "{prefix}__{toolName}"
	description    string
	client         *mcpclient.Client
	timeoutSec     int
	connected      *atomic.Bool
}

// NewBridgeDelegate creates a BridgeDelegate from an MCP tool definition.
func NewBridgeDelegate(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, prefix string, timeoutSec int, connected *atomic.Bool) *BridgeDelegate {
	name := mcpTool.Name
	registered := name
	if prefix != "" {
		registered = prefix + "__" + name
	}
	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	return &BridgeDelegate{
		serverName:     serverName,
		toolName:       name,
		registeredName: registered,
		description:    mcpTool.Description,
		client:         client,
		timeoutSec:     timeoutSec,
		connected:      connected,
	}
}

func (d *BridgeDelegate) Name() string        { return d.registeredName }
func (d *BridgeDelegate) Description() string { return d.description }

// ServerName returns the MCP server this delegate belongs to.
func (d *BridgeDelegate) ServerName() string { return d.serverName }

// OriginalName returns the original MCP tool name (without prefix).
func (d *BridgeDelegate) OriginalName() string { return d.toolName }

func (d *BridgeDelegate) Invoke(ctx context.Context, args map[string]interface{}) *delegate.Result {
	if !d.connected.Load() {
		return delegate.ErrorResult(delegate.CodeFailure,
			fmt.Sprintf("MCP server %q is disconnected", d.serverName))
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(d.timeoutSec)*time.Second)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = d.toolName
	req.Params.Arguments = args

	result, err := d.client.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return delegate.ErrorResult(delegate.CodeTimeout,
				fmt.Sprintf("MCP tool %q timeout after %ds", d.registeredName, d.timeoutSec))
		}
		return delegate.ErrorResult(delegate.CodeFailure,
			fmt.Sprintf("MCP tool %q error: %v", d.registeredName, err))
	}

	text := extractTextContent(result)
	if result.IsError {
		return delegate.ErrorResult(delegate.CodeFailure, text)
	}
	return delegate.NewResult(text)
}

// extractTextContent concatenates all text content from a CallToolResult.
func extractTextContent(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			// non-text content (image, audio)
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}
