package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loopwork-ai/saasmcp/auth"
)

const (
	// DefaultCallTimeout bounds a single tool call when no timeout is configured.
	DefaultCallTimeout = 30 * time.Second

	tracerName = "github.com/loopwork-ai/saasmcp/mcp"
)

// CallRequest is an incoming tool call before validation.
type CallRequest struct {
	Tool      string
	Arguments json.RawMessage
	Header    http.Header
}

// Result is the outcome of a tool call: a payload on success or an error.
type Result struct {
	Payload map[string]any
	Err     *ToolError
}

// Success wraps a payload.
func Success(payload map[string]any) Result {
	if payload == nil {
		payload = map[string]any{}
	}
	return Result{Payload: payload}
}

// Failure wraps an error, classifying it if needed.
func Failure(err error) Result {
	return Result{Err: AsToolError(err)}
}

// IsError reports whether the call failed.
func (r Result) IsError() bool { return r.Err != nil }

// Structured returns the JSON object sent back to the client.
func (r Result) Structured() map[string]any {
	if r.Err != nil {
		return r.Err.Payload()
	}
	return r.Payload
}

// Option configures a Registry or a Server.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	timeout      time.Duration
	tracer       trace.Tracer
	name         string
	version      string
	instructions string
	jsonResponse bool
}

func newOptions(opts []Option) options {
	o := options{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultCallTimeout,
		tracer:  otel.Tracer(tracerName),
		name:    "saasmcp",
		version: "dev",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCallTimeout bounds each tool call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithServerInfo sets the implementation name and version reported to clients.
func WithServerInfo(name, version string) Option {
	return func(o *options) {
		o.name = name
		o.version = version
	}
}

// WithInstructions sets the usage instructions sent during initialization.
func WithInstructions(s string) Option {
	return func(o *options) { o.instructions = s }
}

// WithJSONResponse makes the streamable HTTP transport answer with a single
// JSON body instead of an event stream.
func WithJSONResponse(enabled bool) Option {
	return func(o *options) { o.jsonResponse = enabled }
}

// Registry holds the tools of one server and dispatches calls to them.
type Registry struct {
	tools    []*Tool
	byName   map[string]*Tool
	resolver auth.Resolver
	opts     options
}

// NewRegistry builds a registry. Tool names must be unique.
func NewRegistry(resolver auth.Resolver, tools []*Tool, opts ...Option) (*Registry, error) {
	if resolver == nil {
		return nil, errors.New("a credential resolver is required")
	}
	r := &Registry{
		byName:   make(map[string]*Tool, len(tools)),
		resolver: resolver,
		opts:     newOptions(opts),
	}
	for _, t := range tools {
		if t == nil || t.Name == "" {
			return nil, errors.New("tool without a name")
		}
		if t.Handler == nil {
			return nil, errors.Newf("tool %q has no handler", t.Name)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, errors.Newf("duplicate tool %q", t.Name)
		}
		r.byName[t.Name] = t
		r.tools = append(r.tools, t)
	}
	return r, nil
}

// List yields the registered tools in registration order.
func (r *Registry) List() iter.Seq[*Tool] {
	return func(yield func(*Tool) bool) {
		for _, t := range r.tools {
			if !yield(t) {
				return
			}
		}
	}
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Lookup returns the tool with the given name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Dispatch runs a tool call. It never returns a Go error: every failure is
// reported through the Result.
func (r *Registry) Dispatch(ctx context.Context, req CallRequest) (result Result) {
	callID := uuid.NewString()
	logger := r.opts.logger.With("tool", req.Tool, "call_id", callID)
	start := time.Now()

	ctx, span := r.opts.tracer.Start(ctx, "tools/call "+req.Tool,
		trace.WithAttributes(
			attribute.String("mcp.tool", req.Tool),
			attribute.String("mcp.call_id", callID),
		))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("tool panicked", "panic", p, "stack", string(debug.Stack()))
			result = Failure(NewError(KindUpstreamError, "internal error: %v", p))
		}
		if result.Err != nil {
			span.SetAttributes(attribute.String("mcp.error_kind", string(result.Err.Kind)))
			span.SetStatus(codes.Error, result.Err.Message)
			logger.Warn("tool call failed", "error_kind", result.Err.Kind, "error", result.Err.Message, "duration", time.Since(start))
			return
		}
		logger.Info("tool call succeeded", "duration", time.Since(start))
	}()

	tool, ok := r.byName[req.Tool]
	if !ok {
		return Failure(NewError(KindUnknownTool, "unknown tool %q", req.Tool))
	}

	raw, err := DecodeArguments(req.Arguments)
	if err != nil {
		return Failure(InvalidArgument("", "%v", err))
	}
	args, err := tool.Validate(raw)
	if err != nil {
		return Failure(err)
	}

	cred, err := r.resolver.Resolve(req.Header)
	if err != nil {
		return Failure(err)
	}
	span.SetAttributes(attribute.String("mcp.credential_source", string(cred.Source)))
	logger = logger.With("credential_source", string(cred.Source))

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	payload, err := tool.Handler(ctx, &Call{
		ID:         callID,
		Tool:       tool.Name,
		Arguments:  args,
		Credential: cred,
	})
	if err != nil {
		return Failure(err)
	}
	return Success(payload)
}

// DispatchArgs is a convenience for callers holding decoded arguments.
func (r *Registry) DispatchArgs(ctx context.Context, tool string, args map[string]any, header http.Header) Result {
	data, err := json.Marshal(args)
	if err != nil {
		return Failure(InvalidArgument("", "encoding arguments: %v", err))
	}
	return r.Dispatch(ctx, CallRequest{Tool: tool, Arguments: data, Header: header})
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d tools)", len(r.tools))
}
