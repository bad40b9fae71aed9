package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes a Registry over the Model Context Protocol.
type Server struct {
	registry *Registry
	opts     options
}

// NewServer creates a protocol front-end for the registry.
func NewServer(registry *Registry, opts ...Option) *Server {
	o := registry.opts
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{registry: registry, opts: o}
}

// Registry returns the registry served by s.
func (s *Server) Registry() *Registry { return s.registry }

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.opts.logger }

// MCPServer builds a protocol server whose tool calls use header for
// credential resolution unless the call itself carries an HTTP header.
// A nil header means only the configured fallback can authenticate.
func (s *Server) MCPServer(header http.Header) *mcpsdk.Server {
	var serverOpts *mcpsdk.ServerOptions
	if s.opts.instructions != "" {
		serverOpts = &mcpsdk.ServerOptions{Instructions: s.opts.instructions}
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    s.opts.name,
		Version: s.opts.version,
	}, serverOpts)

	for tool := range s.registry.List() {
		server.AddTool(toSDKTool(tool), s.toolHandler(header))
	}
	server.AddReceivingMiddleware(s.unknownToolMiddleware)
	return server
}

func toSDKTool(t *Tool) *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema(),
		Annotations: &mcpsdk.ToolAnnotations{
			ReadOnlyHint:   t.ReadOnly,
			IdempotentHint: t.ReadOnly,
		},
	}
}

func (s *Server) toolHandler(bound http.Header) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		header := bound
		if req.Extra != nil && req.Extra.Header != nil {
			header = req.Extra.Header
		}
		result := s.registry.Dispatch(ctx, CallRequest{
			Tool:      req.Params.Name,
			Arguments: req.Params.Arguments,
			Header:    header,
		})
		return toSDKResult(result), nil
	}
}

// unknownToolMiddleware answers calls to unregistered tools with an
// UnknownTool result instead of a protocol error.
func (s *Server) unknownToolMiddleware(next mcpsdk.MethodHandler) mcpsdk.MethodHandler {
	return func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
		if method != "tools/call" {
			return next(ctx, method, req)
		}
		params, ok := req.GetParams().(*mcpsdk.CallToolParamsRaw)
		if !ok || params == nil {
			return next(ctx, method, req)
		}
		if _, found := s.registry.Lookup(params.Name); found {
			return next(ctx, method, req)
		}
		return toSDKResult(s.registry.Dispatch(ctx, CallRequest{
			Tool:      params.Name,
			Arguments: params.Arguments,
		})), nil
	}
}

func toSDKResult(r Result) *mcpsdk.CallToolResult {
	structured := r.Structured()
	text, err := json.MarshalIndent(structured, "", "  ")
	if err != nil {
		text = []byte(`{"error_kind":"UpstreamError","message":"unencodable result"}`)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		StructuredContent: structured,
		IsError:           r.IsError(),
	}
}
