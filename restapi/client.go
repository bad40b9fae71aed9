// Package restapi turns catalog operations into tool handlers that perform
// exactly one vendor HTTP request per call.
package restapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/loopwork-ai/saasmcp/catalog"
	"github.com/loopwork-ai/saasmcp/mcp"
)

// maxBodySize caps how much of a vendor response is read.
var maxBodySize int64 = 10 << 20

// Check runs local validation before any request is sent.
type Check func(args mcp.Arguments) error

// Finish post-processes a successful payload.
type Finish func(payload map[string]any, args mcp.Arguments) map[string]any

// Hooks customize a single tool.
type Hooks struct {
	Check  Check
	Finish Finish
	// Description replaces the operation description when set.
	Description string
}

// Client executes catalog operations against a vendor API.
type Client struct {
	catalog *catalog.Catalog
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	errors  ErrorFormat
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for vendor calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBaseURL overrides the base URL declared by the catalog.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		if u != "" {
			cl.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithErrorFormat sets where vendor error messages and codes are found.
func WithErrorFormat(f ErrorFormat) Option {
	return func(cl *Client) { cl.errors = f }
}

// New creates a Client for the operations of cat.
func New(cat *catalog.Catalog, opts ...Option) *Client {
	c := &Client{
		catalog: cat,
		baseURL: cat.BaseURL,
		http:    http.DefaultClient,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		errors:  DefaultErrorFormat,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog returns the operations served by c.
func (c *Client) Catalog() *catalog.Catalog { return c.catalog }

// Tools builds one tool per catalog operation accepted by include.
// A nil include accepts every operation. Hooks must name known operations.
func (c *Client) Tools(hooks map[string]Hooks, include func(*catalog.Operation) bool) ([]*mcp.Tool, error) {
	for name := range hooks {
		if _, ok := c.catalog.Operation(name); !ok {
			return nil, errors.Newf("hooks for unknown operation %q", name)
		}
	}

	var tools []*mcp.Tool
	for op := range c.catalog.Operations() {
		if include != nil && !include(op) {
			continue
		}
		tools = append(tools, c.Tool(op, hooks[op.ID]))
	}
	return tools, nil
}

// Tool builds the tool for a single operation.
func (c *Client) Tool(op *catalog.Operation, hooks Hooks) *mcp.Tool {
	description := op.Description
	if hooks.Description != "" {
		description = hooks.Description
	}
	return &mcp.Tool{
		Name:        op.ID,
		Description: description,
		Params:      op.ToolParams(),
		ReadOnly:    op.ReadOnly(),
		Handler: func(ctx context.Context, call *mcp.Call) (map[string]any, error) {
			if hooks.Check != nil {
				if err := hooks.Check(call.Arguments); err != nil {
					return nil, err
				}
			}
			payload, err := c.Invoke(ctx, op, call)
			if err != nil {
				return nil, err
			}
			if hooks.Finish != nil {
				payload = hooks.Finish(payload, call.Arguments)
			}
			return payload, nil
		},
	}
}

// Invoke sends the request for op and maps the response.
func (c *Client) Invoke(ctx context.Context, op *catalog.Operation, call *mcp.Call) (map[string]any, error) {
	req, err := c.newRequest(ctx, op, call)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrapf(ctxErr, "%s %s", op.Method, op.Path)
		}
		return nil, mcp.NewError(mcp.KindUpstreamError, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, mcp.NewError(mcp.KindUpstreamError, "reading response: %v", err)
	}

	c.logger.Debug("vendor request",
		"call_id", call.ID,
		"operation", op.ID,
		"method", op.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	tooLarge := int64(len(body)) > maxBodySize
	if tooLarge {
		body = body[:maxBodySize]
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.errors.classify(resp, body)
	}
	if tooLarge {
		return nil, mcp.NewError(mcp.KindUpstreamError, "response to %s %s is larger than %d bytes", op.Method, op.Path, maxBodySize)
	}
	return buildPayload(op, call.Arguments, body)
}
