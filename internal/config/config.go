package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the encoding from a file extension. YAML is the default.
func FormatFromPath(p string) Format {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Config is the configuration of a tool server.
type Config struct {
	// Port is the HTTP listen port. Zero selects the service default.
	Port int `json:"port" yaml:"port" toml:"port" validate:"gte=0,lte=65535"`

	// BaseURL overrides the vendor API base URL.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty" validate:"omitempty,url"`

	// JSONResponse makes the streamable HTTP transport reply with plain JSON.
	JSONResponse bool `json:"json_response" yaml:"json_response" toml:"json_response"`

	// Timeout bounds each vendor call, as a duration string.
	Timeout string `json:"timeout" yaml:"timeout" toml:"timeout" validate:"required"`

	// ReadOnly disables every tool that changes vendor state.
	ReadOnly bool `json:"read_only" yaml:"read_only" toml:"read_only"`

	// DisabledOperations disables tools by HTTP method.
	DisabledOperations Operations `json:"disabled_operations" yaml:"disabled_operations" toml:"disabled_operations"`

	// DisabledTools lists tool names or glob patterns to hide.
	DisabledTools []string `json:"disabled_tools" yaml:"disabled_tools" toml:"disabled_tools"`

	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" toml:"tracing"`

	timeout time.Duration
}

// Operations represents which HTTP operations are disabled.
type Operations struct {
	GET    bool `json:"get" yaml:"get" toml:"get"`
	POST   bool `json:"post" yaml:"post" toml:"post"`
	PUT    bool `json:"put" yaml:"put" toml:"put"`
	DELETE bool `json:"delete" yaml:"delete" toml:"delete"`
	PATCH  bool `json:"patch" yaml:"patch" toml:"patch"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" toml:"format" validate:"oneof=text json"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty" validate:"required_if=Enabled true"`
	Insecure bool   `json:"insecure" yaml:"insecure" toml:"insecure"`
}

// DefaultTimeout is the per-call vendor timeout.
const DefaultTimeout = 30 * time.Second

// DefaultConfig returns a configuration with every tool enabled.
func DefaultConfig() *Config {
	return &Config{
		Timeout:       DefaultTimeout.String(),
		DisabledTools: []string{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		timeout: DefaultTimeout,
	}
}

// LoadFile loads configuration from a file. A missing file yields the defaults.
func LoadFile(p string) (*Config, error) {
	if p == "" {
		return DefaultConfig(), nil
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrap(err, "opening config file")
	}
	defer f.Close()

	cfg, err := Load(f, FormatFromPath(p))
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", p)
	}
	return cfg, nil
}

// Load reads configuration from r. ${VAR} references are expanded from the
// environment before decoding.
func Load(r io.Reader, format Format) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading config data")
	}
	data = []byte(expandEnvVars(string(data)))

	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, cfg)
	case FormatTOML:
		err = toml.Unmarshal(data, cfg)
	case FormatYAML, "":
		if len(bytes.TrimSpace(data)) > 0 {
			err = yaml.Unmarshal(data, cfg)
		}
	default:
		return nil, errors.Newf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the value of VAR, or "" if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and parses the timeout.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "validating config")
	}

	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return errors.Wrapf(err, "invalid timeout %q", c.Timeout)
	}
	if d <= 0 {
		return errors.Newf("timeout must be positive, got %s", c.Timeout)
	}
	c.timeout = d

	for _, pattern := range c.DisabledTools {
		if _, err := path.Match(pattern, ""); err != nil {
			return errors.Wrapf(err, "invalid disabled_tools pattern %q", pattern)
		}
	}
	return nil
}

// RequestTimeout returns the parsed per-call timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.timeout == 0 {
		if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
			return d
		}
		return DefaultTimeout
	}
	return c.timeout
}

// SetTimeout overrides the per-call timeout.
func (c *Config) SetTimeout(d time.Duration) {
	c.timeout = d
	c.Timeout = d.String()
}

// IsOperationDisabled checks if a specific HTTP operation is disabled.
func (c *Config) IsOperationDisabled(method string) bool {
	switch strings.ToUpper(method) {
	case "GET":
		return c.DisabledOperations.GET
	case "POST":
		return c.DisabledOperations.POST || c.ReadOnly
	case "PUT":
		return c.DisabledOperations.PUT || c.ReadOnly
	case "DELETE":
		return c.DisabledOperations.DELETE || c.ReadOnly
	case "PATCH":
		return c.DisabledOperations.PATCH || c.ReadOnly
	default:
		return c.ReadOnly
	}
}

// IsToolDisabled checks if a tool name matches an entry of DisabledTools.
func (c *Config) IsToolDisabled(name string) bool {
	for _, pattern := range c.DisabledTools {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Allows reports whether a tool backed by the given HTTP method is enabled.
func (c *Config) Allows(name, method string) bool {
	return !c.IsToolDisabled(name) && !c.IsOperationDisabled(method)
}

// Save writes the configuration to a file in the format implied by its extension.
func (c *Config) Save(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrap(err, "creating config directory")
	}

	var buf bytes.Buffer
	switch FormatFromPath(p) {
	case FormatJSON:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshaling config")
		}
		buf.Write(data)
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return errors.Wrap(err, "marshaling config")
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return errors.Wrap(err, "marshaling config")
		}
		if err := enc.Close(); err != nil {
			return errors.Wrap(err, "marshaling config")
		}
	}

	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "writing config file")
	}
	return nil
}
