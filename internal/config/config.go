// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/gemini-proxy/config.toml",
	"configs/config.toml",
}

// DefaultBaseURL is the upstream used when neither the config file nor the
// environment names one.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Credential strategies.
const (
	CredentialServerHeld        = "server_held"
	CredentialPassThroughBearer = "pass_through_bearer"
)

// Path rewrite rules.
const (
	RewriteIdentity        = "identity"
	RewriteNamespacePrefix = "namespace_prefix"
)

// Upstream client modes.
const (
	ClientHTTP      = "http"
	ClientOpenAISDK = "openai_sdk"
)

// CORS modes.
const (
	CORSAlways   = "always"
	CORSIfAbsent = "if_absent"
)

// Debug modes.
const (
	DebugOff     = "off"
	DebugVerbose = "verbose"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIKey     string `kong:"help='Server-held upstream API key (overrides config).',env='API_KEY,OPENAI_API_KEY,GEMINI_API_KEY'"`
	BaseURL    string `kong:"help='Upstream base URL (overrides config).',env='UPSTREAM_BASE_URL'"`
	Credential string `kong:"help='Credential strategy: server_held|pass_through_bearer (overrides config).',env='CREDENTIAL_STRATEGY'"`
	Debug      string `kong:"help='Debug mode: off|verbose (overrides config).',env='DEBUG_MODE'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings and the server-held key.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	Client          string `toml:"client"`
	DefaultModel    string `toml:"default_model"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// ProxyConfig selects the translation policy applied to every request.
type ProxyConfig struct {
	Credential   string `toml:"credential"`
	PathRewrite  string `toml:"path_rewrite"`
	Namespace    string `toml:"namespace"`
	RootEndpoint string `toml:"root_endpoint"`
	CORS         string `toml:"cors"`
	Debug        string `toml:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	TLS         bool   `toml:"tls"` // plaintext gRPC unless set
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/gemini-proxy/config.toml then configs/config.toml. Finding neither is
// not an error: the proxy then runs on defaults plus environment values.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIKey != "" {
		c.Upstream.APIKey = cli.APIKey
	}
	if cli.BaseURL != "" {
		c.Upstream.BaseURL = cli.BaseURL
	}
	if cli.Credential != "" {
		c.Proxy.Credential = cli.Credential
	}
	if cli.Debug != "" {
		c.Proxy.Debug = cli.Debug
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Upstream.APIKey == "YOUR_API_KEY_HERE" {
		return fmt.Errorf("upstream.api_key contains placeholder value; set a real key or leave empty for pass-through mode")
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use HTTPS; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Policy enums.
	if err := oneOf("upstream.client", c.Upstream.Client, ClientHTTP, ClientOpenAISDK); err != nil {
		return err
	}
	if err := oneOf("proxy.credential", c.Proxy.Credential, CredentialServerHeld, CredentialPassThroughBearer); err != nil {
		return err
	}
	if err := oneOf("proxy.path_rewrite", c.Proxy.PathRewrite, RewriteIdentity, RewriteNamespacePrefix); err != nil {
		return err
	}
	if err := oneOf("proxy.cors", c.Proxy.CORS, CORSAlways, CORSIfAbsent); err != nil {
		return err
	}
	if err := oneOf("proxy.debug", c.Proxy.Debug, DebugOff, DebugVerbose); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Proxy.Namespace, "/") {
		return fmt.Errorf("proxy.namespace must start with '/'; got %q", c.Proxy.Namespace)
	}
	if !strings.HasPrefix(c.Proxy.RootEndpoint, "/") {
		return fmt.Errorf("proxy.root_endpoint must start with '/'; got %q", c.Proxy.RootEndpoint)
	}

	// Log fields.
	if err := oneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if err := oneOf("log.format", strings.ToLower(c.Log.Format), "json", "text"); err != nil {
		return err
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p == "" || p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of: %s; got %q", field, strings.Join(allowed, ", "), value)
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.Client == "" {
		c.Upstream.Client = ClientHTTP
	}
	if c.Upstream.DefaultModel == "" {
		c.Upstream.DefaultModel = "gpt-3.5-turbo"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Proxy.Credential == "" {
		c.Proxy.Credential = CredentialPassThroughBearer
	}
	if c.Proxy.PathRewrite == "" {
		c.Proxy.PathRewrite = RewriteNamespacePrefix
	}
	if c.Proxy.Namespace == "" {
		c.Proxy.Namespace = "/openai"
	}
	if c.Proxy.RootEndpoint == "" {
		c.Proxy.RootEndpoint = "/openai/chat/completions"
	}
	if c.Proxy.CORS == "" {
		c.Proxy.CORS = CORSAlways
	}
	if c.Proxy.Debug == "" {
		c.Proxy.Debug = DebugOff
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "gemini-proxy"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Verbose reports whether verbose debug logging is enabled.
func (p *ProxyConfig) Verbose() bool {
	return p.Debug == DebugVerbose
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
