package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ToolHandler is the interface for handling tool calls.
type ToolHandler interface {
	GetTools() []Tool
	HandleTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error)
}

// ResourceProvider is implemented by handlers that also expose resources.
type ResourceProvider interface {
	ListResources() []Resource
	ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error)
}

// ErrResourceNotFound is returned by ReadResource for an unknown URI.
var ErrResourceNotFound = errors.New("resource not found")

// Server is the MCP server that handles protocol messages.
type Server struct {
	transport   *Transport
	handler     ToolHandler
	log         *zap.Logger
	initialized atomic.Bool

	subMu         sync.Mutex
	subscriptions map[string]bool

	serverInfo Implementation
}

// NewServer creates a new MCP server.
func NewServer(reader io.Reader, writer io.Writer, handler ToolHandler, version string, log *zap.Logger) *Server {
	log = log.Named("mcp")
	return &Server{
		transport:     NewTransport(reader, writer, log),
		handler:       handler,
		log:           log,
		subscriptions: make(map[string]bool),
		serverInfo: Implementation{
			Name:    "rts-coordinator",
			Version: version,
		},
	}
}

// Run serves requests until the input closes or ctx is done. Reading
// happens on its own goroutine so cancellation is not held up by a
// blocked read.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("MCP server starting")

	type message struct {
		req *Request
		err error
	}
	msgs := make(chan message)
	go func() {
		for {
			req, err := s.transport.ReadMessage()
			select {
			case msgs <- message{req, err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, ErrParse) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("MCP server shutting down")
			return nil
		case m := <-msgs:
			if errors.Is(m.err, io.EOF) {
				s.log.Info("client disconnected")
				return nil
			}
			if errors.Is(m.err, ErrParse) {
				s.log.Warn("dropping malformed message", zap.Error(m.err))
				if err := s.transport.SendError(nil, ParseError, m.err.Error(), nil); err != nil {
					return err
				}
				continue
			}
			if m.err != nil {
				return m.err
			}
			if err := s.handleRequest(ctx, m.req); err != nil {
				s.log.Error("failed to handle request", zap.String("method", m.req.Method), zap.Error(err))
			}
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req *Request) error {
	s.log.Debug("handling request", zap.String("method", req.Method), zap.Any("id", req.ID))

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		s.initialized.Store(true)
		s.log.Info("client initialized")
		return nil
	case "ping":
		return s.transport.SendResult(req.ID, map[string]any{})
	case "tools/list":
		return s.transport.SendResult(req.ID, ListToolsResult{Tools: s.handler.GetTools()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.handleResourcesList(req)
	case "resources/read":
		return s.handleResourcesRead(ctx, req)
	case "resources/subscribe", "resources/unsubscribe":
		return s.handleSubscribe(req, req.Method == "resources/subscribe")
	default:
		if req.ID == nil {
			return nil
		}
		return s.transport.SendError(req.ID, MethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *Request) error {
	var params InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return s.transport.SendError(req.ID, InvalidParams, "Invalid initialize params", nil)
		}
	}

	s.log.Info("client initializing",
		zap.String("client", params.ClientInfo.Name),
		zap.String("version", params.ClientInfo.Version),
		zap.String("protocol", params.ProtocolVersion),
	)

	caps := ServerCapabilities{Tools: &ToolsCapability{}}
	if _, ok := s.handler.(ResourceProvider); ok {
		caps.Resources = &ResourcesCapability{Subscribe: true}
	}
	return s.transport.SendResult(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      s.serverInfo,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) error {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid tool call params", nil)
	}

	s.log.Info("tool call", zap.String("name", params.Name))

	result, err := s.handler.HandleTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Error("tool call failed", zap.String("name", params.Name), zap.Error(err))
		// Tool failures are results, not JSON-RPC errors.
		return s.transport.SendResult(req.ID, &CallToolResult{
			Content: []ContentBlock{TextContent(fmt.Sprintf("Error: %s", err.Error()))},
			IsError: true,
		})
	}
	return s.transport.SendResult(req.ID, result)
}

func (s *Server) handleResourcesList(req *Request) error {
	result := ListResourcesResult{Resources: []Resource{}}
	if rp, ok := s.handler.(ResourceProvider); ok {
		result.Resources = rp.ListResources()
	}
	return s.transport.SendResult(req.ID, result)
}

func (s *Server) handleResourcesRead(ctx context.Context, req *Request) error {
	var params ResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid resource read params", nil)
	}

	rp, ok := s.handler.(ResourceProvider)
	if !ok {
		return s.transport.SendError(req.ID, ResourceNotFound, fmt.Sprintf("Resource not found: %s", params.URI), nil)
	}
	result, err := rp.ReadResource(ctx, params.URI)
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return s.transport.SendError(req.ID, ResourceNotFound, fmt.Sprintf("Resource not found: %s", params.URI), nil)
	case err != nil:
		return s.transport.SendError(req.ID, InternalError, err.Error(), nil)
	}
	return s.transport.SendResult(req.ID, result)
}

func (s *Server) handleSubscribe(req *Request, subscribe bool) error {
	var params ResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid subscribe params", nil)
	}
	s.subMu.Lock()
	if subscribe {
		s.subscriptions[params.URI] = true
	} else {
		delete(s.subscriptions, params.URI)
	}
	s.subMu.Unlock()
	return s.transport.SendResult(req.ID, map[string]any{})
}

// NotifyResourceUpdated tells a subscribed client that uri changed.
func (s *Server) NotifyResourceUpdated(uri string) {
	if !s.initialized.Load() {
		return
	}
	s.subMu.Lock()
	subscribed := s.subscriptions[uri]
	s.subMu.Unlock()
	if !subscribed {
		return
	}
	if err := s.transport.SendNotification("notifications/resources/updated", ResourceUpdatedParams{URI: uri}); err != nil {
		s.log.Warn("failed to send resource update", zap.String("uri", uri), zap.Error(err))
	}
}
