// Package mcp exposes the tool dispatcher over the Model Context
// Protocol's streamable HTTP transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/webbridge/webbridge/internal/dispatch"
	"github.com/webbridge/webbridge/internal/toolerr"
)

// Server wraps the dispatcher's tool registry as an MCP server.
type Server struct {
	dispatcher *dispatch.Dispatcher
	registry   *dispatch.Registry
	server     *mcp.Server
	log        *slog.Logger

	mu         sync.Mutex
	registered map[string]bool
}

// NewServer builds the MCP server and registers the currently enabled
// tools. Registry changes propagate to connected clients via
// tools/list_changed.
func NewServer(dispatcher *dispatch.Dispatcher, registry *dispatch.Registry, version string) *Server {
	s := &Server{
		dispatcher: dispatcher,
		registry:   registry,
		log:        slog.Default().With("component", "mcp"),
		registered: make(map[string]bool),
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "webbridge",
		Version: version,
	}, nil)

	s.registerTools()

	// AddTool/RemoveTools send notifications/tools/list_changed to
	// connected clients, so an allowed-tools config reload is picked up
	// without a reconnect.
	registry.OnChange(func(added, removed []string) {
		s.syncTools(added, removed)
	})

	return s
}

func (s *Server) registerTools() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, decl := range s.registry.List() {
		s.addToolToServer(decl)
	}
}

// addToolToServer adds a single tool (caller must hold s.mu).
func (s *Server) addToolToServer(decl dispatch.Decl) {
	s.server.AddTool(&mcp.Tool{
		Name:        decl.Name,
		Description: decl.Description,
		InputSchema: decl.Schema,
	}, s.createToolHandler(decl.Name))
	s.registered[decl.Name] = true
}

// syncTools applies a registry diff to the MCP server.
func (s *Server) syncTools(added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(removed) > 0 {
		s.server.RemoveTools(removed...)
		for _, name := range removed {
			delete(s.registered, name)
		}
		s.log.Info("tools removed", "tools", removed)
	}

	for _, name := range added {
		decl, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		s.addToolToServer(decl)
		s.log.Info("tool added", "tool", name)
	}
}

// createToolHandler builds an MCP handler that routes through the
// dispatcher. Errors never propagate as protocol errors; they come back
// as IsError results so the client sees the taxonomy kind.
func (s *Server) createToolHandler(toolName string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (retResult *mcp.CallToolResult, retErr error) {
		// Recover from panics so one bad call cannot kill the stream.
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in tool handler", "tool", toolName, "panic", r)
				retResult = errorResult(fmt.Sprintf("tool panicked: %v", r))
				retErr = nil
			}
		}()

		res, err := s.dispatcher.Dispatch(ctx, dispatch.Call{
			Tool:   toolName,
			Params: json.RawMessage(req.Params.Arguments),
		})
		if err != nil {
			return errorResult(fmt.Sprintf("%s: %s", toolerr.KindOf(err), err.Error())), nil
		}

		content := []mcp.Content{&mcp.TextContent{Text: res.Text}}
		if len(res.Image) > 0 {
			content = append(content, &mcp.ImageContent{Data: res.Image, MIMEType: res.MIME})
		}
		return &mcp.CallToolResult{Content: content}, nil
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// Handler returns the streamable HTTP handler for mounting under /mcp.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return s.server
		},
		nil,
	)
}
