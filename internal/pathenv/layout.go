// Package pathenv maps the paths agents use onto the filesystem the tool
// server actually runs on, and decides which of them may be touched.
//
// In a container the conventional /manim tree exists as is. On a host the
// same paths are rewritten under the project root so scripts written for the
// container keep working.
package pathenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultScriptName is the script written and rendered when no name is given.
const DefaultScriptName = "ai_generated_manim_script.py"

// ContainerBases are the directories reachable when running in a container.
var ContainerBases = []string{"/manim", "/app", "/media", "/usr/local", "/tmp"}

// ErrTraversal is returned for paths with a ".." segment.
var ErrTraversal = errors.New("Path traversal attempts are not allowed")

// OutsideError is returned for paths outside every allowed base directory.
type OutsideError struct {
	Path    string
	Allowed []string
}

func (e *OutsideError) Error() string {
	return "Access is only allowed to these base directories: " + strings.Join(e.Allowed, ", ")
}

// Layout is the path strategy of one tool server process. It is resolved once
// at startup and shared read-only by every tool.
type Layout struct {
	Container   bool
	ProjectRoot string
	MediaDir    string
	Allowed     []string
}

// InContainer reports whether the process runs inside a Docker container.
func InContainer() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

// New builds a layout. projectRoot is ignored in a container, where the
// project root is "/". An empty mediaDir selects the output directory of the
// layout.
func New(container bool, projectRoot, mediaDir string) (*Layout, error) {
	l := &Layout{Container: container}
	if container {
		l.ProjectRoot = "/"
		l.Allowed = append([]string(nil), ContainerBases...)
	} else {
		if projectRoot == "" {
			projectRoot = "."
		}
		root, err := filepath.Abs(projectRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		l.ProjectRoot = root
		l.Allowed = []string{
			root,
			filepath.Join(root, "temp"),
			filepath.Join(root, "output"),
			filepath.Join(root, "animations"),
			"/tmp",
		}
	}
	if mediaDir == "" {
		mediaDir = l.OutputDir()
	}
	media, err := filepath.Abs(mediaDir)
	if err != nil {
		return nil, fmt.Errorf("resolve media dir: %w", err)
	}
	l.MediaDir = media
	if !l.allowed(media) {
		l.Allowed = append(l.Allowed, media)
	}
	return l, nil
}

// WorkspaceRoot is what "/" designates for the tools: /manim in a container
// and the project root on a host.
func (l *Layout) WorkspaceRoot() string {
	if l.Container {
		return "/manim"
	}
	return l.ProjectRoot
}

// ScriptDir is where write_manim_script puts files.
func (l *Layout) ScriptDir() string {
	if l.Container {
		return "/manim/temp"
	}
	return filepath.Join(l.ProjectRoot, "temp")
}

// OutputDir is the conventional output directory of the layout.
func (l *Layout) OutputDir() string {
	if l.Container {
		return "/manim/output"
	}
	return filepath.Join(l.ProjectRoot, "output")
}

// DefaultScriptPath is the script rendered when no filepath is given.
func (l *Layout) DefaultScriptPath() string {
	return filepath.Join(l.ScriptDir(), DefaultScriptName)
}

// hostPrefixes rewrite container paths on a host, most specific first.
var hostPrefixes = []struct{ prefix, sub string }{
	{"/manim/temp", "temp"},
	{"/manim/output", "output"},
	{"/manim", ""},
	{"/temp", "temp"},
	{"/output", "output"},
}

// Adjust rewrites container-style absolute paths under the project root when
// running on a host. Prefixes only match whole path segments.
func (l *Layout) Adjust(p string) string {
	if l.Container || !strings.HasPrefix(p, "/") {
		return p
	}
	for _, hp := range hostPrefixes {
		rest, ok := cutSegmentPrefix(p, hp.prefix)
		if !ok {
			continue
		}
		return filepath.Join(l.ProjectRoot, hp.sub, rest)
	}
	return p
}

func cutSegmentPrefix(p, prefix string) (string, bool) {
	if p == prefix {
		return "", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix)+1:], true
	}
	return "", false
}

// Resolve validates a user supplied path and returns the filesystem path it
// designates. Paths with ".." segments and paths outside the allowed base
// directories are rejected. Relative paths are taken from the project root and
// "/" designates the workspace root.
func (l *Layout) Resolve(p string) (string, error) {
	for _, seg := range strings.FieldsFunc(p, isSeparator) {
		if seg == ".." {
			return "", ErrTraversal
		}
	}
	if p == "" || p == "/" {
		return l.WorkspaceRoot(), nil
	}
	p = l.Adjust(filepath.ToSlash(filepath.Clean(p)))
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.ProjectRoot, p)
	}
	p = filepath.Clean(p)
	if !l.allowed(p) {
		return "", &OutsideError{Path: p, Allowed: l.Allowed}
	}
	return p, nil
}

func (l *Layout) allowed(p string) bool {
	for _, base := range l.Allowed {
		if p == base || strings.HasPrefix(p, strings.TrimRight(base, string(filepath.Separator))+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }
