package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gaspardpetit/manim-mcp/internal/mcpclient"
)

// BridgeConfig holds configuration for the HTTP bridge.
type BridgeConfig struct {
	Port           int              `yaml:"port"`
	MetricsAddr    string           `yaml:"metrics_addr"`
	ConfigFile     string           `yaml:"-"`
	LogLevel       string           `yaml:"log_level"`
	MediaDir       string           `yaml:"media_dir"`
	ClientPage     string           `yaml:"client_page"`
	PublicURL      string           `yaml:"public_url"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	APIKey         string           `yaml:"api_key"`
	RedisAddr      string           `yaml:"redis_addr"`
	DrainTimeout   time.Duration    `yaml:"drain_timeout"`
	MCP            mcpclient.Config `yaml:"mcp"`
}

// SetDefaults initializes c with built-in defaults.
func (c *BridgeConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8002
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.MediaDir == "" {
		c.MediaDir = "output"
	}
	if c.ClientPage == "" {
		c.ClientPage = "mcp_client.html"
	}
	if c.PublicURL == "" {
		c.PublicURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 5 * time.Minute
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("bridge.yaml")
	}
	c.MCP.SetDefaults()
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *BridgeConfig) BindFlags() {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("bridge.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	port, err := strconv.Atoi(GetEnv("PORT", "8002"))
	if err != nil {
		port = 8002
	}
	c.Port = port
	c.MetricsAddr = metricsAddr(GetEnv("METRICS_PORT", ""), port)
	c.MediaDir = GetEnv("MEDIA_DIR", "output")
	c.ClientPage = GetEnv("CLIENT_PAGE", "mcp_client.html")
	c.PublicURL = GetEnv("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", port))
	c.AllowedOrigins = splitComma(GetEnv("ALLOWED_ORIGINS", "*"))
	c.APIKey = GetEnv("API_KEY", "")
	c.RedisAddr = GetEnv("REDIS_ADDR", "")
	c.DrainTimeout = durationEnv("DRAIN_TIMEOUT", 5*time.Minute)

	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "bridge config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = metricsAddr(v, c.Port)
		return nil
	})
	flag.StringVar(&c.MediaDir, "media-dir", c.MediaDir, "directory holding rendered videos")
	flag.StringVar(&c.ClientPage, "client-page", c.ClientPage, "HTML page served at /")
	flag.StringVar(&c.PublicURL, "public-url", c.PublicURL, "externally visible base URL of the bridge")
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	flag.StringVar(&c.APIKey, "api-key", c.APIKey, "bearer key required on protocol endpoints; leave empty to disable auth")
	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for the job index; empty keeps it in memory")
	flag.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight requests on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	c.MCP.BindFlags()
}

// LoadFile populates the config from a YAML file.
func (c *BridgeConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// MetricsOnMainPort reports whether /metrics is served by the main listener.
func (c *BridgeConfig) MetricsOnMainPort() bool {
	return c.MetricsAddr == fmt.Sprintf(":%d", c.Port) || strings.TrimSpace(c.MetricsAddr) == ""
}
