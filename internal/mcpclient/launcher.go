package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Launcher starts a tool server child process.
type Launcher interface {
	Launch(ctx context.Context) (Child, error)
}

// Child is a running tool server and its three pipe endpoints.
type Child interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	Pid() int
	// Terminate asks the child to exit and kills it when it is still running
	// after grace. It also releases the pipes.
	Terminate(grace time.Duration) error
}

// CommandLauncher spawns the tool server as an OS process.
type CommandLauncher struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// NewCommandLauncher builds a launcher from the stdio settings of cfg.
func NewCommandLauncher(cfg Config) CommandLauncher {
	return CommandLauncher{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env, Dir: cfg.Dir}
}

// Launch starts the process. The child outlives ctx: its lifetime is managed by
// Terminate, not by the request that happened to trigger the spawn.
func (l CommandLauncher) Launch(ctx context.Context) (Child, error) {
	if l.Command == "" {
		return nil, fmt.Errorf("stdio command not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), buildEnv(l.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("starting %s: %w", l.Command, err)
	}
	return &commandChild{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// commandChild wraps an exec.Cmd to implement Child. Wait is only called from
// Terminate because it closes the stdout pipe, which would race with reads.
type commandChild struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (c *commandChild) Stdin() io.Writer  { return c.stdin }
func (c *commandChild) Stdout() io.Reader { return c.stdout }
func (c *commandChild) Stderr() io.Reader { return c.stderr }
func (c *commandChild) Pid() int          { return c.cmd.Process.Pid }

func (c *commandChild) Terminate(grace time.Duration) error {
	// closing stdin lets a well-behaved server exit on EOF
	_ = c.stdin.Close()
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = c.cmd.Process.Kill()
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- c.cmd.Wait() }()
	select {
	case err := <-waitCh:
		return exitErr(err)
	case <-time.After(grace):
		_ = c.cmd.Process.Kill()
		return exitErr(<-waitCh)
	}
}

// exitErr drops the expected "signal: terminated" style exit statuses.
func exitErr(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return nil
	}
	return err
}

// buildEnv constructs the extra environment from allowlisted variables.
// Each entry may be either "KEY" to copy from the current process env or
// "KEY=value" to set an explicit value. Variables not present in the current
// environment are skipped.
func buildEnv(vars []string) []string {
	var out []string
	for _, v := range vars {
		if strings.Contains(v, "=") {
			out = append(out, v)
			continue
		}
		if val, ok := os.LookupEnv(v); ok {
			out = append(out, fmt.Sprintf("%s=%s", v, val))
		}
	}
	return out
}
