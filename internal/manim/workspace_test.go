package manim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/manim-mcp/internal/pathenv"
)

// fakeRunner answers the manim installation check and simulates a render by
// writing the video where manim would.
type fakeRunner struct {
	mu       sync.Mutex
	commands []Command
	check    Result
	render   func(ctx context.Context, c Command) (Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, c Command) (Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, c)
	f.mu.Unlock()
	if len(c.Args) > 0 && c.Args[0] == "-c" {
		return f.check, nil
	}
	if f.render == nil {
		return Result{}, nil
	}
	return f.render(ctx, c)
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

// writesVideo renders by creating <media>/videos/<stem>/<quality>/<scene>.mp4.
func writesVideo(t *testing.T) func(ctx context.Context, c Command) (Result, error) {
	return func(ctx context.Context, c Command) (Result, error) {
		var media string
		for _, a := range c.Args {
			if strings.HasPrefix(a, "--media_dir=") {
				media = strings.TrimPrefix(a, "--media_dir=")
			}
		}
		n := len(c.Args)
		script, scene := c.Args[n-2], c.Args[n-1]
		q := "480p15"
		for _, v := range Qualities {
			if v.Flag == c.Args[n-3] {
				q = v.Dir
			}
		}
		if _, err := os.Lstat(filepath.Join(c.Dir, "media")); err != nil {
			t.Errorf("media link missing in work dir: %v", err)
		}
		stem := strings.TrimSuffix(filepath.Base(script), ".py")
		dir := filepath.Join(media, "videos", stem, q)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, err
		}
		if err := os.WriteFile(filepath.Join(dir, scene+".mp4"), []byte("mp4"), 0o644); err != nil {
			return Result{}, err
		}
		return Result{Stdout: "File ready at " + scene + ".mp4"}, nil
	}
}

func newTestWorkspace(t *testing.T, r Runner) (*Workspace, string) {
	t.Helper()
	root := t.TempDir()
	layout, err := pathenv.New(false, root, "")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	w := NewWorkspace(layout, r, Options{PublicURL: "http://bridge.test/"}, zerolog.Nop())
	w.newID = func() string { return "3f1c2d9e-0000-4000-8000-000000000001" }
	return w, root
}

func isValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func TestWriteScriptRejectsSeparators(t *testing.T) {
	w, root := newTestWorkspace(t, &fakeRunner{})
	for _, name := range []string{"../evil.py", "sub/scene.py", `sub\scene.py`, ".."} {
		if _, err := w.WriteScript("x", name); !isValidation(err) {
			t.Errorf("%q: expected validation error, got %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "temp")); !os.IsNotExist(err) {
		t.Fatalf("rejected write touched the filesystem: %v", err)
	}

	out, err := w.WriteScript("from manim import *\n", "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := filepath.Join(root, "temp", pathenv.DefaultScriptName)
	if !strings.Contains(out, want) {
		t.Fatalf("unexpected message %q", out)
	}
	if b, err := os.ReadFile(want); err != nil || string(b) != "from manim import *\n" {
		t.Fatalf("script content %q %v", b, err)
	}
}

func TestReadFile(t *testing.T) {
	w, root := newTestWorkspace(t, &fakeRunner{})
	if _, err := w.ReadFile("/manim/../../etc/passwd"); !isValidation(err) || !strings.Contains(err.Error(), "traversal") {
		t.Fatalf("expected traversal rejection, got %v", err)
	}
	if _, err := w.ReadFile("/etc/passwd"); !isValidation(err) || !strings.Contains(err.Error(), "base directories") {
		t.Fatalf("expected allow-list rejection, got %v", err)
	}
	if _, err := w.ReadFile("/manim/missing.py"); !isValidation(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	big := strings.Repeat("é", maxReadChars+10)
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := w.ReadFile("/manim/big.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasSuffix(out, "\n... (content truncated, file too large)") {
		t.Fatalf("missing truncation marker")
	}
	body := strings.TrimPrefix(out, "File: "+filepath.Join(root, "big.txt")+"\n\n")
	body = strings.TrimSuffix(body, "\n... (content truncated, file too large)")
	if n := len([]rune(body)); n != maxReadChars {
		t.Fatalf("expected %d characters, got %d", maxReadChars, n)
	}
}

func TestListDirectories(t *testing.T) {
	w, root := newTestWorkspace(t, &fakeRunner{})
	for _, d := range []string{"temp", "output/job", ".cache"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{"b.py", "a.py", ".env", "output/job/x.mp4"} {
		if err := os.WriteFile(filepath.Join(root, f), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := w.ListDirectories("/", false, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := strings.Join([]string{
		"Directory: " + root,
		"Total items: 4",
		"",
		"[dir] output",
		"[dir] temp",
		"[file] a.py",
		"[file] b.py",
	}, "\n")
	if out != want {
		t.Fatalf("unexpected listing:\n%s", out)
	}

	out, err = w.ListDirectories("/manim", true, true)
	if err != nil {
		t.Fatalf("recursive list: %v", err)
	}
	for _, line := range []string{"[dir] .cache", "[dir] output/job", "[file] .env", "[file] output/job/x.mp4"} {
		if !strings.Contains(out, line+"\n") && !strings.HasSuffix(out, line) {
			t.Fatalf("missing %q in:\n%s", line, out)
		}
	}

	if _, err := w.ListDirectories("/manim/a.py", false, false); !isValidation(err) {
		t.Fatalf("expected not a directory, got %v", err)
	}
	if _, err := w.ListDirectories("/etc", false, false); !isValidation(err) {
		t.Fatalf("expected allow-list rejection, got %v", err)
	}
}

func TestRenderRejectsUnknownQuality(t *testing.T) {
	r := &fakeRunner{}
	w, _ := newTestWorkspace(t, r)
	_, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro", Quality: "ultra"})
	if !isValidation(err) || err.Error() != "Unknown quality level: ultra" {
		t.Fatalf("expected quality rejection, got %v", err)
	}
	if r.calls() != 0 {
		t.Fatalf("subprocess started for invalid quality")
	}
}

func TestRenderMissingScript(t *testing.T) {
	r := &fakeRunner{}
	w, _ := newTestWorkspace(t, r)
	if _, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro"}); !isValidation(err) {
		t.Fatalf("expected missing file error, got %v", err)
	}
	if r.calls() != 0 {
		t.Fatalf("subprocess started for missing script")
	}
}

func TestWriteRenderResultScenario(t *testing.T) {
	r := &fakeRunner{}
	r.render = writesVideo(t)
	w, root := newTestWorkspace(t, r)
	jobID := w.newID()

	if _, err := w.WriteScript("class Intro(Scene): pass\n", "intro.py"); err != nil {
		t.Fatalf("write: %v", err)
	}
	report, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro", Filepath: "/manim/temp/intro.py", Quality: "medium_quality"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Job ID: " + jobID, "Rendering completed successfully", "-qm", "- " + jobID + ".mp4", "Manim output:"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
	media := filepath.Join(root, "output")
	if _, err := os.Stat(filepath.Join(media, jobID+".mp4")); err != nil {
		t.Fatalf("job video not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(media, "temp_work_"+jobID)); !os.IsNotExist(err) {
		t.Fatalf("work dir not removed: %v", err)
	}
	render := r.commands[1]
	if render.Dir != filepath.Join(media, "temp_work_"+jobID) || render.Args[2] != "--media_dir="+media {
		t.Fatalf("unexpected render command %+v", render)
	}

	first, err := w.AnimationResult(jobID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	second, _ := w.AnimationResult(jobID)
	if first != second {
		t.Fatalf("result not idempotent:\n%s\n---\n%s", first, second)
	}
	if !strings.Contains(first, jobID+".mp4 (in output directory: "+filepath.Join(media, jobID+".mp4")+")") {
		t.Fatalf("unexpected result:\n%s", first)
	}

	url, err := w.VideoURL(jobID)
	if err != nil || !strings.HasPrefix(url, "Video URL: http://bridge.test/video/"+jobID+".mp4") {
		t.Fatalf("video url %q %v", url, err)
	}
}

func TestRenderFallsBackToSceneSearch(t *testing.T) {
	r := &fakeRunner{render: func(ctx context.Context, c Command) (Result, error) {
		media := strings.TrimPrefix(c.Args[2], "--media_dir=")
		script := c.Args[len(c.Args)-2]
		stem := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
		dir := filepath.Join(media, "videos", stem, "1080p60")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, err
		}
		return Result{}, os.WriteFile(filepath.Join(dir, "Intro_partial.mp4"), []byte("mp4"), 0o644)
	}}
	w, root := newTestWorkspace(t, r)
	if _, err := w.WriteScript("x", ""); err != nil {
		t.Fatal(err)
	}
	report, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(report, "Output file created: "+filepath.Join(root, "output", w.newID()+".mp4")) {
		t.Fatalf("fallback video not copied:\n%s", report)
	}
}

func TestRenderIgnoresVideosOfOtherScripts(t *testing.T) {
	w, root := newTestWorkspace(t, &fakeRunner{})
	stale := filepath.Join(root, "output", "videos", "other_script", "480p15")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "Intro.mp4"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteScript("x", ""); err != nil {
		t.Fatal(err)
	}
	report, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(report, "Output file created") {
		t.Fatalf("stale video of another script was copied:\n%s", report)
	}
	entries, err := os.ReadDir(filepath.Join(root, "output"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".mp4") {
			t.Fatalf("unexpected job video %s", e.Name())
		}
	}
}

func TestRenderFailureReport(t *testing.T) {
	r := &fakeRunner{render: func(ctx context.Context, c Command) (Result, error) {
		return Result{ExitCode: 1, Stderr: "NameError: name 'Cirle' is not defined"}, nil
	}}
	w, _ := newTestWorkspace(t, r)
	if _, err := w.WriteScript("x", ""); err != nil {
		t.Fatal(err)
	}
	_, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro"})
	var ext *ExternalToolError
	if !errors.As(err, &ext) || ext.ExitCode != 1 {
		t.Fatalf("expected external tool error, got %v", err)
	}
	for _, want := range []string{"Rendering failed", "Return code: 1", "Cirle"} {
		if !strings.Contains(ext.Report, want) {
			t.Fatalf("report missing %q:\n%s", want, ext.Report)
		}
	}
}

func TestRenderManimMissing(t *testing.T) {
	r := &fakeRunner{check: Result{ExitCode: 1, Stderr: "ModuleNotFoundError"}}
	w, _ := newTestWorkspace(t, r)
	if _, err := w.WriteScript("x", ""); err != nil {
		t.Fatal(err)
	}
	_, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro"})
	var ext *ExternalToolError
	if !errors.As(err, &ext) || !strings.Contains(err.Error(), "pip install manim") {
		t.Fatalf("expected install hint, got %v", err)
	}
	if r.calls() != 1 {
		t.Fatalf("render ran without manim")
	}
}

func TestRenderTimeout(t *testing.T) {
	r := &fakeRunner{render: func(ctx context.Context, c Command) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}}
	w, _ := newTestWorkspace(t, r)
	w.opts.RenderTimeout = 20 * time.Millisecond
	if _, err := w.WriteScript("x", ""); err != nil {
		t.Fatal(err)
	}
	_, err := w.Render(context.Background(), RenderRequest{SceneName: "Intro"})
	if !errors.Is(err, ErrRenderTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestAnimationResultNotFound(t *testing.T) {
	w, _ := newTestWorkspace(t, &fakeRunner{})
	out, err := w.AnimationResult("nope")
	if err != nil || out != "No animation files found for job ID: nope" {
		t.Fatalf("unexpected %q %v", out, err)
	}
	if _, err := w.AnimationResult("../x"); !isValidation(err) {
		t.Fatalf("expected invalid job id, got %v", err)
	}
	out, err = w.VideoURL("nope")
	if err != nil || out != "No video file found for job ID: nope" {
		t.Fatalf("unexpected %q %v", out, err)
	}
}

func TestAnimationResultJobDirectory(t *testing.T) {
	w, root := newTestWorkspace(t, &fakeRunner{})
	jobDir := filepath.Join(root, "output", "job42")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{filepath.Join(jobDir, "b.png"), filepath.Join(jobDir, "a.mp4"), filepath.Join(root, "output", "job42.mp4")} {
		if err := os.WriteFile(f, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	out, err := w.AnimationResult("job42")
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"Animation results for job ID: job42",
		"Files found: 3",
		"",
		"- a.mp4 (in job directory: " + filepath.Join(jobDir, "a.mp4") + ")",
		"- b.png (in job directory: " + filepath.Join(jobDir, "b.png") + ")",
		"- job42.mp4 (in output directory: " + filepath.Join(root, "output", "job42.mp4") + ")",
	}, "\n")
	if out != want {
		t.Fatalf("unexpected result:\n%s", out)
	}
}
