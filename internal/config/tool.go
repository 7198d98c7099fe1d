package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ToolConfig holds configuration for the tool server.
type ToolConfig struct {
	ConfigFile    string        `yaml:"-"`
	LogLevel      string        `yaml:"log_level"`
	ProjectRoot   string        `yaml:"project_root"`
	Container     string        `yaml:"container"`
	MediaDir      string        `yaml:"media_dir"`
	Python        string        `yaml:"python"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
	PublicURL     string        `yaml:"public_url"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *ToolConfig) BindFlags() {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("toolserver.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.ProjectRoot = GetEnv("MANIM_PROJECT_ROOT", ".")
	c.Container = GetEnv("MANIM_CONTAINER", "auto")
	c.MediaDir = GetEnv("MEDIA_DIR", "")
	c.Python = GetEnv("MANIM_PYTHON", "python3")
	c.RenderTimeout = durationEnv("RENDER_TIMEOUT", 300*time.Second)
	c.PublicURL = GetEnv("PUBLIC_URL", "http://localhost:8002")

	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "tool server config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.StringVar(&c.ProjectRoot, "project-root", c.ProjectRoot, "workspace root when running on a host")
	flag.StringVar(&c.Container, "container", c.Container, "container path layout: auto, true or false")
	flag.StringVar(&c.MediaDir, "media-dir", c.MediaDir, "directory receiving rendered videos; defaults to the output directory of the layout")
	flag.StringVar(&c.Python, "python", c.Python, "python interpreter with manim installed")
	flag.DurationVar(&c.RenderTimeout, "render-timeout", c.RenderTimeout, "maximum duration of one manim render")
	flag.StringVar(&c.PublicURL, "public-url", c.PublicURL, "bridge base URL used in video links")
}

// LoadFile populates the config from a YAML file.
func (c *ToolConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// ContainerMode resolves the Container setting; "auto" defers to detected.
func (c *ToolConfig) ContainerMode(detected bool) bool {
	switch strings.ToLower(strings.TrimSpace(c.Container)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return detected
	}
}
