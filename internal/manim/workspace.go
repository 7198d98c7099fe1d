// Package manim implements the tools of the manim tool server: browsing the
// workspace, writing scene scripts, rendering them with the manim CLI and
// locating the produced videos.
package manim

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/manim-mcp/internal/pathenv"
)

const maxReadChars = 100000

// Options tune a Workspace.
type Options struct {
	Python        string
	RenderTimeout time.Duration
	// PublicURL is the bridge base URL used to build video links.
	PublicURL string
}

// Workspace carries the state shared by every tool.
type Workspace struct {
	layout *pathenv.Layout
	runner Runner
	opts   Options
	newID  func() string
	log    zerolog.Logger
}

// NewWorkspace returns a workspace over layout that runs manim through runner.
func NewWorkspace(layout *pathenv.Layout, runner Runner, opts Options, log zerolog.Logger) *Workspace {
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 300 * time.Second
	}
	if opts.PublicURL == "" {
		opts.PublicURL = "http://localhost:8002"
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Workspace{layout: layout, runner: runner, opts: opts, newID: uuid.NewString, log: log}
}

// Layout returns the path layout of the workspace.
func (w *Workspace) Layout() *pathenv.Layout { return w.layout }

func (w *Workspace) resolve(p string) (string, error) {
	out, err := w.layout.Resolve(p)
	if err != nil {
		return "", &ValidationError{Msg: err.Error()}
	}
	return out, nil
}

// ListDirectories lists dir, directories first. With recursive set, entries
// are paths relative to dir.
func (w *Workspace) ListDirectories(dir string, recursive, showHidden bool) (string, error) {
	p, err := w.resolve(dir)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", invalid("Directory not found: %s", p)
	} else if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", invalid("Path is not a directory: %s", p)
	}

	type entry struct {
		name string
		dir  bool
	}
	var entries []entry
	if recursive {
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == p {
					return err
				}
				return nil
			}
			if path == p {
				return nil
			}
			if !showHidden && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, _ := filepath.Rel(p, path)
			entries = append(entries, entry{name: filepath.ToSlash(rel), dir: d.IsDir()})
			return nil
		})
	} else {
		var des []os.DirEntry
		des, err = os.ReadDir(p)
		for _, d := range des {
			if !showHidden && strings.HasPrefix(d.Name(), ".") {
				continue
			}
			isDir := d.IsDir()
			if d.Type()&fs.ModeSymlink != 0 {
				if st, serr := os.Stat(filepath.Join(p, d.Name())); serr == nil {
					isDir = st.IsDir()
				}
			}
			entries = append(entries, entry{name: d.Name(), dir: isDir})
		}
	}
	if errors.Is(err, fs.ErrPermission) {
		return "", fmt.Errorf("Permission denied: %s", p)
	} else if err != nil {
		return "", err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].dir != entries[j].dir {
			return entries[i].dir
		}
		return entries[i].name < entries[j].name
	})
	lines := []string{
		"Directory: " + p,
		fmt.Sprintf("Total items: %d", len(entries)),
		"",
	}
	for _, e := range entries {
		if e.dir {
			lines = append(lines, "[dir] "+e.name)
		} else {
			lines = append(lines, "[file] "+e.name)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// WriteScript saves content under the script directory of the layout.
func (w *Workspace) WriteScript(content, filename string) (string, error) {
	if filename == "" {
		filename = pathenv.DefaultScriptName
	}
	if strings.ContainsAny(filename, `/\`) {
		return "", invalid("Filename should not include path separators")
	}
	if filename == "." || filename == ".." {
		return "", invalid("Invalid filename: %s", filename)
	}
	dir := w.layout.ScriptDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("Failed to create directory %s: %w", dir, err)
	}
	p := filepath.Join(dir, filename)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("Failed to write file: %w", err)
	}
	w.log.Info().Str("path", p).Int("bytes", len(content)).Msg("script written")
	return fmt.Sprintf("Successfully wrote script to %s. You can now render it with the render_manim_animation tool.", p), nil
}

// ReadFile returns the content of a file in the workspace, truncated beyond
// 100,000 characters.
func (w *Workspace) ReadFile(path string) (string, error) {
	p, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", invalid("File not found: %s", p)
	} else if err != nil {
		return "", err
	}
	if !st.Mode().IsRegular() {
		return "", invalid("Path is not a file: %s", p)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("Error reading file %s: %w", p, err)
	}
	content := string(b)
	if utf8.RuneCountInString(content) > maxReadChars {
		content = truncateRunes(content, maxReadChars) + "\n... (content truncated, file too large)"
	}
	return fmt.Sprintf("File: %s\n\n%s", p, content), nil
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// checkJobID rejects ids that could escape the media directory.
func checkJobID(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return invalid("job_id is required")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return invalid("Invalid job ID: %s", jobID)
	}
	return nil
}

type foundFile struct {
	name string
	path string
	job  bool
}

// findJobFiles lists files of <media>/<jobID>/ and files of <media>/ whose
// name contains jobID, in a stable order.
func (w *Workspace) findJobFiles(jobID string) []foundFile {
	var out []foundFile
	jobDir := filepath.Join(w.layout.MediaDir, jobID)
	if des, err := os.ReadDir(jobDir); err == nil {
		for _, d := range des {
			if d.Type().IsRegular() {
				out = append(out, foundFile{name: d.Name(), path: filepath.Join(jobDir, d.Name()), job: true})
			}
		}
	}
	if des, err := os.ReadDir(w.layout.MediaDir); err == nil {
		for _, d := range des {
			if d.Type().IsRegular() && strings.Contains(d.Name(), jobID) {
				out = append(out, foundFile{name: d.Name(), path: filepath.Join(w.layout.MediaDir, d.Name())})
			}
		}
	}
	return out
}

// AnimationResult lists the files produced by a render job.
func (w *Workspace) AnimationResult(jobID string) (string, error) {
	if err := checkJobID(jobID); err != nil {
		return "", err
	}
	files := w.findJobFiles(jobID)
	if len(files) == 0 {
		return "No animation files found for job ID: " + jobID, nil
	}
	lines := []string{
		"Animation results for job ID: " + jobID,
		fmt.Sprintf("Files found: %d", len(files)),
		"",
	}
	for _, f := range files {
		where := "output directory"
		if f.job {
			where = "job directory"
		}
		lines = append(lines, fmt.Sprintf("- %s (in %s: %s)", f.name, where, f.path))
	}
	return strings.Join(lines, "\n"), nil
}

// VideoURL returns the bridge URL of the first video of a render job.
func (w *Workspace) VideoURL(jobID string) (string, error) {
	if err := checkJobID(jobID); err != nil {
		return "", err
	}
	for _, f := range w.findJobFiles(jobID) {
		if f.job || !strings.HasSuffix(f.name, ".mp4") {
			continue
		}
		return fmt.Sprintf("Video URL: %s/video/%s\nDirect file path: %s", w.opts.PublicURL, f.name, f.path), nil
	}
	return "No video file found for job ID: " + jobID, nil
}
