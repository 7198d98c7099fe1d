package mcpclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"
)

// TestHelperProcess is not a real test; it is the child spawned by the
// launcher tests. It echoes stdin lines back on stdout.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprintln(os.Stderr, "helper ready", os.Getenv("HELPER_GREETING"))
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fmt.Fprintln(os.Stdout, sc.Text())
	}
	os.Exit(0)
}

func helperLauncher() CommandLauncher {
	return CommandLauncher{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_GREETING=hello"},
	}
}

func TestCommandLauncherRoundTrip(t *testing.T) {
	child, err := helperLauncher().Launch(context.Background())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if child.Pid() <= 0 {
		t.Fatalf("unexpected pid %d", child.Pid())
	}
	errLines := bufio.NewScanner(child.Stderr())
	if !errLines.Scan() || errLines.Text() != "helper ready hello" {
		t.Fatalf("unexpected stderr %q", errLines.Text())
	}
	if _, err := io.WriteString(child.Stdin(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := bufio.NewScanner(child.Stdout())
	if !out.Scan() {
		t.Fatalf("no echo: %v", out.Err())
	}
	if got := out.Text(); got != `{"jsonrpc":"2.0","id":1,"method":"ping"}` {
		t.Fatalf("unexpected echo %q", got)
	}
	if err := child.Terminate(time.Second); err != nil {
		t.Fatalf("terminate: %v", err)
	}
}

func TestCommandLauncherMissingBinary(t *testing.T) {
	l := CommandLauncher{Command: "/nonexistent/manim-mcp"}
	if _, err := l.Launch(context.Background()); err == nil {
		t.Fatalf("expected error for missing binary")
	}
	if _, err := (CommandLauncher{}).Launch(context.Background()); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("MANIM_TEST_COPY", "copied")
	got := buildEnv([]string{"MANIM_TEST_COPY", "MANIM_TEST_MISSING", "MEDIA_DIR=/media"})
	if len(got) != 2 || got[0] != "MANIM_TEST_COPY=copied" || got[1] != "MEDIA_DIR=/media" {
		t.Fatalf("unexpected env %v", got)
	}
}
