package mcpclient

import (
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ProtocolVersion is the MCP protocol revision announced during the handshake.
const ProtocolVersion = "2024-11-05"

// Config controls how the bridge spawns and talks to the tool server.
type Config struct {
	// Command is the tool server executable; Args and Env are passed to it.
	// Env entries are either "KEY" (copied from the bridge environment) or
	// "KEY=value".
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	Dir     string   `yaml:"dir"`

	// InitTimeout bounds the wait for the initialize response.
	InitTimeout time.Duration `yaml:"init_timeout"`
	// CallTimeout bounds the wait for each response line. A child that stays
	// silent longer is killed and respawned on the next call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	ProtocolVersion string `yaml:"protocol_version"`
	ClientName      string `yaml:"client_name"`
	ClientVersion   string `yaml:"client_version"`
}

// SetDefaults fills zero values with built-in defaults.
func (c *Config) SetDefaults() {
	if c.Command == "" {
		c.Command = DefaultCommand()
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 330 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 3 * time.Second
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = ProtocolVersion
	}
	if c.ClientName == "" {
		c.ClientName = "manim-bridge"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "dev"
	}
}

// BindFlags populates the config using environment variables and binds CLI flags.
func (c *Config) BindFlags() {
	c.Command = getEnv("MCP_STDIO_COMMAND", DefaultCommand())
	c.Args = splitComma(getEnv("MCP_STDIO_ARGS", ""))
	c.Env = splitComma(getEnv("MCP_STDIO_ENV", ""))
	c.Dir = getEnv("MCP_STDIO_DIR", "")
	c.InitTimeout = parseSeconds(getEnv("MCP_INIT_TIMEOUT", "10s"), 10*time.Second)
	c.CallTimeout = parseSeconds(getEnv("MCP_CALL_TIMEOUT", "330s"), 330*time.Second)
	c.StopTimeout = parseSeconds(getEnv("MCP_STOP_TIMEOUT", "3s"), 3*time.Second)

	flag.StringVar(&c.Command, "mcp-stdio-command", c.Command, "tool server executable spawned by the bridge")
	flag.Var(newCSVValue(c.Args, &c.Args), "mcp-stdio-args", "comma separated tool server arguments")
	flag.Var(newCSVValue(c.Env, &c.Env), "mcp-stdio-env", "extra tool server environment (KEY or KEY=value)")
	flag.StringVar(&c.Dir, "mcp-stdio-dir", c.Dir, "working directory of the tool server")
	flag.DurationVar(&c.InitTimeout, "mcp-init-timeout", c.InitTimeout, "timeout for the initialize handshake")
	flag.DurationVar(&c.CallTimeout, "mcp-call-timeout", c.CallTimeout, "maximum wait for a tool server response before the child is restarted")
	flag.DurationVar(&c.StopTimeout, "mcp-stop-timeout", c.StopTimeout, "grace period between terminate and kill")
}

// DefaultCommand returns the manim-mcp binary installed next to the running
// executable, falling back to a PATH lookup by name.
func DefaultCommand() string {
	name := "manim-mcp"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), name)
		if st, err := os.Stat(sibling); err == nil && !st.IsDir() {
			return sibling
		}
	}
	return name
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func parseSeconds(v string, d time.Duration) time.Duration {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	if out, err := time.ParseDuration(v); err == nil {
		return out
	}
	return d
}

// helper for flag CSV values
type csvValue struct {
	val []string
	dst *[]string
}

func newCSVValue(val []string, dst *[]string) *csvValue { return &csvValue{val: val, dst: dst} }

func (c *csvValue) String() string { return strings.Join(c.val, ",") }

func (c *csvValue) Set(v string) error {
	c.val = splitComma(v)
	*c.dst = c.val
	return nil
}

func getEnv(k, d string) string {
	if v := env(k); v != "" {
		return v
	}
	return d
}

var env = os.Getenv
