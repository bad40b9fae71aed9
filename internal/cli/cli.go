// Package cli builds the command line of a vendor MCP server.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loopwork-ai/saasmcp/auth"
	"github.com/loopwork-ai/saasmcp/catalog"
	"github.com/loopwork-ai/saasmcp/internal"
	"github.com/loopwork-ai/saasmcp/internal/config"
	"github.com/loopwork-ai/saasmcp/mcp"
	"github.com/loopwork-ai/saasmcp/restapi"
)

// DefaultPort is used when neither the config, the flags nor the
// service's port variable name a port.
const DefaultPort = 5000

const shutdownTimeout = 5 * time.Second

// Service describes one vendor server.
type Service struct {
	Name         string
	Short        string
	Long         string
	PortEnv      string
	Instructions string

	Catalog     func() (*catalog.Catalog, error)
	Hooks       map[string]restapi.Hooks
	ErrorFormat restapi.ErrorFormat

	// Resolver builds the credential resolver, reading fallbacks from the
	// environment.
	Resolver func(ctx context.Context) (auth.Resolver, error)
}

// BuildInfo is stamped into the binary at release time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit: %s, built at: %s)", b.Version, b.Commit, b.Date)
}

// Build assembles the server for svc. Tools rejected by cfg are left out.
func (svc *Service) Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, tracer trace.Tracer, version string) (*mcp.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cat, err := svc.Catalog()
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s catalog", svc.Name)
	}
	resolver, err := svc.Resolver(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "configuring credentials")
	}

	clientOpts := []restapi.Option{
		restapi.WithHTTPClient(internal.NewHTTPClient(cfg.RequestTimeout(), logger, http.Header{
			"User-Agent": {svc.Name + "/" + version},
		})),
		restapi.WithBaseURL(cfg.BaseURL),
		restapi.WithLogger(logger),
	}
	if len(svc.ErrorFormat.Message) > 0 {
		clientOpts = append(clientOpts, restapi.WithErrorFormat(svc.ErrorFormat))
	}
	client := restapi.New(cat, clientOpts...)

	tools, err := client.Tools(svc.Hooks, func(op *catalog.Operation) bool {
		if cfg.Allows(op.ID, op.Method) {
			return true
		}
		logger.Debug("tool disabled", "tool", op.ID, "method", op.Method)
		return false
	})
	if err != nil {
		return nil, err
	}

	registry, err := mcp.NewRegistry(resolver, tools,
		mcp.WithLogger(logger),
		mcp.WithCallTimeout(cfg.RequestTimeout()),
		mcp.WithTracer(tracer),
		mcp.WithServerInfo(svc.Name, version),
		mcp.WithInstructions(svc.Instructions),
		mcp.WithJSONResponse(cfg.JSONResponse),
	)
	if err != nil {
		return nil, err
	}
	return mcp.NewServer(registry), nil
}

type flags struct {
	config       string
	port         int
	logLevel     string
	logFormat    string
	jsonResponse bool
	stdio        bool
	timeout      time.Duration
	baseURL      string
	readOnly     bool
}

// NewCommand returns the root command for svc.
func NewCommand(svc Service, info BuildInfo) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           svc.Name,
		Short:         svc.Short,
		Long:          svc.Long,
		Version:       info.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f, svc.PortEnv)
			if err != nil {
				return err
			}
			logger := NewLogger(cmd.ErrOrStderr(), cfg.Log)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			tracer, shutdownTracing, err := setupTracing(ctx, svc.Name, info.Version, cfg.Tracing)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					logger.Warn("flushing traces", "error", err)
				}
			}()

			server, err := svc.Build(ctx, cfg, logger, tracer, info.Version)
			if err != nil {
				return err
			}
			logger.Info("server ready", "server", svc.Name, "version", info.Version, "tools", server.Registry().Len())

			if f.stdio {
				logger.Info("serving on stdio")
				return server.ServeStdio(ctx)
			}

			ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
			if err != nil {
				return errors.Wrap(err, "listening")
			}
			return Serve(ctx, server, ln, logger)
		},
	}

	f.bind(cmd, svc.PortEnv)

	cmd.AddCommand(newToolsCommand(svc, &f, info))
	cmd.AddCommand(newConfigCommand())
	return cmd
}

// bind registers the flags on cmd. Flags shared with subcommands are persistent.
func (f *flags) bind(cmd *cobra.Command, portEnv string) {
	pfs := cmd.PersistentFlags()
	pfs.StringVarP(&f.config, "config", "c", "", "Path to a YAML, TOML or JSON config file")
	pfs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pfs.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	pfs.DurationVar(&f.timeout, "timeout", 0, "Timeout for each vendor request (default 30s)")
	pfs.StringVar(&f.baseURL, "base-url", "", "Override the vendor API base URL")
	pfs.BoolVar(&f.readOnly, "read-only", false, "Expose only tools that do not change vendor state")

	fs := cmd.Flags()
	fs.IntVarP(&f.port, "port", "p", 0, fmt.Sprintf("Port to listen on (default $%s or %d)", portEnv, DefaultPort))
	fs.BoolVar(&f.jsonResponse, "json-response", false, "Answer streamable HTTP requests with a single JSON body")
	fs.BoolVar(&f.stdio, "stdio", false, "Serve one session over stdin and stdout instead of HTTP")
}

// loadConfig reads the config file and applies flags and the port variable.
func loadConfig(cmd *cobra.Command, f *flags, portEnv string) (*config.Config, error) {
	cfg, err := config.LoadFile(f.config)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if cfg.Port == 0 && portEnv != "" {
		if v := os.Getenv(portEnv); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid %s", portEnv)
			}
			cfg.Port = port
		}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fs.Changed("json-response") {
		cfg.JSONResponse = f.jsonResponse
	}
	if fs.Changed("timeout") {
		cfg.SetTimeout(f.timeout)
	}
	if fs.Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if fs.Changed("read-only") {
		cfg.ReadOnly = f.readOnly
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Serve runs the HTTP transports on ln until ctx is done.
func Serve(ctx context.Context, server *mcp.Server, ln net.Listener, logger *slog.Logger) error {
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			"addr", ln.Addr().String(),
			"sse", mcp.SSEPath,
			"streamable", mcp.StreamablePath,
		)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving HTTP")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
