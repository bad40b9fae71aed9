package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// SSEPath serves the event-stream transport. Messages are posted back to
	// the same path with the session id in the query string.
	SSEPath = "/sse"
	// StreamablePath serves the streamable HTTP transport.
	StreamablePath = "/mcp"
	// HealthPath reports liveness.
	HealthPath = "/healthz"
)

// Handler returns an http.Handler serving both HTTP transports.
// Each SSE session is bound to the headers of the request that opened it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	sse := mcpsdk.NewSSEHandler(func(r *http.Request) *mcpsdk.Server {
		s.opts.logger.Debug("sse session opened", "remote", r.RemoteAddr)
		return s.MCPServer(r.Header.Clone())
	}, nil)
	mux.Handle(SSEPath, sse)

	streamable := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return s.MCPServer(r.Header.Clone())
	}, &mcpsdk.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: s.opts.jsonResponse,
	})
	mux.Handle(StreamablePath, streamable)

	mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"server": s.opts.name,
			"tools":  s.registry.Len(),
		})
	})

	return mux
}

// ServeStdio serves a single session over stdin and stdout until ctx is done
// or the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.MCPServer(nil).Run(ctx, &mcpsdk.StdioTransport{})
}
