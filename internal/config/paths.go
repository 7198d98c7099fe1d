package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appDir = "manim-mcp"

// SearchEnv holds the platform facts used to locate config files.
type SearchEnv struct {
	GOOS        string
	Home        string
	XDGConfig   string
	ProgramData string
}

func currentSearchEnv() SearchEnv {
	home, _ := os.UserHomeDir()
	return SearchEnv{
		GOOS:        runtime.GOOS,
		Home:        home,
		XDGConfig:   os.Getenv("XDG_CONFIG_HOME"),
		ProgramData: os.Getenv("ProgramData"),
	}
}

// ConfigCandidates lists where a component config may live, per-user
// locations first. The last entry is the system-wide path.
func ConfigCandidates(env SearchEnv, name string) []string {
	switch env.GOOS {
	case "darwin":
		return []string{
			filepath.Join(env.Home, "Library", "Application Support", appDir, name),
			filepath.Join("/Library", "Application Support", appDir, name),
		}
	case "windows":
		pd := strings.TrimRight(env.ProgramData, `\/`)
		if pd == "" {
			pd = "C:/ProgramData"
		}
		return []string{filepath.Join(pd, appDir, name)}
	default:
		var out []string
		switch {
		case env.XDGConfig != "":
			out = append(out, filepath.Join(env.XDGConfig, appDir, name))
		case env.Home != "":
			out = append(out, filepath.Join(env.Home, ".config", appDir, name))
		}
		return append(out, filepath.Join("/etc", appDir, name))
	}
}

// DefaultConfigPath returns the first existing candidate for name (e.g.
// "bridge.yaml"), or the system-wide path when none exists.
func DefaultConfigPath(name string) string {
	return firstExisting(ConfigCandidates(currentSearchEnv(), name))
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return paths[len(paths)-1]
}
