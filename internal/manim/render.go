package manim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Quality is a manim render preset.
type Quality struct {
	Flag string
	// Dir is the resolution directory manim writes videos into.
	Dir string
}

// Qualities maps the accepted quality names to manim presets.
var Qualities = map[string]Quality{
	"low_quality":        {Flag: "-ql", Dir: "480p15"},
	"medium_quality":     {Flag: "-qm", Dir: "720p30"},
	"high_quality":       {Flag: "-qh", Dir: "1080p60"},
	"production_quality": {Flag: "-qk", Dir: "2160p60"},
}

const outputTail = 1000

// RenderRequest holds the arguments of render_manim_animation.
type RenderRequest struct {
	SceneName string
	Filepath  string
	Quality   string
}

// Render runs manim on a scene and copies the resulting video to
// <media>/<job_id>.mp4. The returned report names the job id.
func (w *Workspace) Render(ctx context.Context, req RenderRequest) (string, error) {
	if req.Quality == "" {
		req.Quality = "low_quality"
	}
	q, ok := Qualities[req.Quality]
	if !ok {
		return "", invalid("Unknown quality level: %s", req.Quality)
	}
	if strings.TrimSpace(req.SceneName) == "" {
		return "", invalid("scene_name is required")
	}
	script := w.layout.DefaultScriptPath()
	if req.Filepath != "" {
		p, err := w.resolve(req.Filepath)
		if err != nil {
			return "", err
		}
		script = p
	}
	if _, err := os.Stat(script); err != nil {
		return "", invalid("File not found: %s", script)
	}

	jobID := w.newID()
	media := w.layout.MediaDir
	log := w.log.With().Str("job_id", jobID).Str("scene", req.SceneName).Logger()

	check, err := w.runner.Run(ctx, Command{Name: w.opts.Python, Args: []string{"-c", "import manim; print(manim.__file__)"}})
	if err != nil {
		return "", &ExternalToolError{Msg: fmt.Sprintf("Cannot check Manim installation: %v", err), ExitCode: -1}
	}
	if check.ExitCode != 0 {
		return "", &ExternalToolError{
			Msg:      fmt.Sprintf("Manim is not installed in the current Python environment. Please install with: pip install manim\nUsing Python: %s\nError: %s", w.opts.Python, check.Stderr),
			ExitCode: check.ExitCode,
		}
	}

	if err := os.MkdirAll(media, 0o755); err != nil {
		return "", fmt.Errorf("Failed to create media directory %s: %w", media, err)
	}
	if err := checkWritable(media); err != nil {
		return "", fmt.Errorf("Media directory %s is not writable: %w", media, err)
	}
	workDir := filepath.Join(media, "temp_work_"+jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("Failed to create temporary working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("remove work dir")
		}
	}()
	link := filepath.Join(workDir, "media")
	if err := os.Symlink(media, link); err != nil {
		if err := os.MkdirAll(link, 0o755); err != nil {
			return "", fmt.Errorf("Could not create media directory or symlink: %w", err)
		}
	}

	args := []string{"-m", "manim", "--media_dir=" + media, q.Flag, script, req.SceneName}
	cmdline := w.opts.Python + " " + strings.Join(args, " ")
	rctx, cancel := context.WithTimeout(ctx, w.opts.RenderTimeout)
	defer cancel()
	log.Info().Str("command", cmdline).Msg("rendering")
	res, err := w.runner.Run(rctx, Command{
		Name: w.opts.Python,
		Args: args,
		Dir:  workDir,
		Env:  []string{"MANIM_MEDIA_DIR=" + media, "TMPDIR=" + workDir},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("timeout", w.opts.RenderTimeout).Msg("render timed out")
			return "", fmt.Errorf("%w after %s. The animation may be too complex", ErrRenderTimeout, w.opts.RenderTimeout)
		}
		return "", fmt.Errorf("Unexpected error during rendering: %w", err)
	}

	output := filepath.Join(media, jobID+".mp4")
	var produced string
	if res.ExitCode == 0 {
		stem := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
		expected := filepath.Join(media, "videos", stem, q.Dir, req.SceneName+".mp4")
		src := expected
		if _, err := os.Stat(expected); err != nil {
			src = findSceneVideo(filepath.Join(media, "videos", stem), req.SceneName)
		}
		if src != "" {
			if err := copyFile(src, output); err != nil {
				return "", fmt.Errorf("Error copying rendered file: %w", err)
			}
			produced = output
		}
	}
	files := w.findJobFiles(jobID)
	log.Info().Int("exit_code", res.ExitCode).Int("files", len(files)).Msg("render finished")

	report := []string{
		"",
		"Command used: " + cmdline,
		"Working directory: " + workDir,
		"Media directory: " + media,
		"Scene: " + req.SceneName,
		fmt.Sprintf("Return code: %d", res.ExitCode),
		"",
	}
	if res.ExitCode == 0 {
		report[0] = "Animation rendered successfully! Job ID: " + jobID
		report = append(report, "Rendering completed successfully")
		if produced != "" {
			report = append(report, "Output file created: "+produced)
		}
		report = append(report, fmt.Sprintf("Files generated: %d", len(files)))
		for _, f := range files {
			report = append(report, "- "+f.name)
		}
		if res.Stdout != "" {
			report = append(report, "", "Manim output:", tail(res.Stdout, outputTail))
		}
	} else {
		report[0] = "Animation rendering failed. Job ID: " + jobID
		report = append(report, "Rendering failed")
		if res.Stderr != "" {
			report = append(report, "", "Error details:", tail(res.Stderr, outputTail))
		}
		report = append(report, "", "Make sure the scene name exists in the file and check your Manim code for errors.")
	}
	report = append(report, "", "To view your animation, use the get_animation_result tool with job_id: "+jobID)
	text := strings.Join(report, "\n")
	if res.ExitCode != 0 {
		return "", &ExternalToolError{Msg: "manim exited with code " + fmt.Sprint(res.ExitCode), ExitCode: res.ExitCode, Report: text}
	}
	return text, nil
}

// findSceneVideo walks dir, the video directory of one script, for the first
// mp4 whose name contains scene.
func findSceneVideo(dir, scene string) string {
	var found string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".mp4") && strings.Contains(d.Name(), scene) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return err
	}
	return os.Rename(out.Name(), dst)
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	// do not start in the middle of a UTF-8 sequence
	for i := 0; i < len(s) && i < 4; i++ {
		if s[i]&0xC0 != 0x80 {
			return s[i:]
		}
	}
	return s
}
