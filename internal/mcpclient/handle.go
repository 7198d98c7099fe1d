package mcpclient

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxLineBytes   = 16 * 1024 * 1024
	stderrTailSize = 20
	// stderrSettle bounds the wait for trailing stderr output after stdout hit
	// end-of-stream, so a crash message can be attached to the error.
	stderrSettle = 250 * time.Millisecond
)

// handle owns one child process: its stdin, a channel of stdout lines fed by
// a reader goroutine, and a tail of recent stderr lines.
type handle struct {
	child   Child
	pid     int
	started time.Time

	lines   chan string
	readErr error
	stop    chan struct{}
	once    sync.Once

	stderr     *tail
	stderrDone chan struct{}

	serverName    string
	serverVersion string
	protocol      string
}

func newHandle(child Child, log zerolog.Logger) *handle {
	h := &handle{
		child:      child,
		pid:        child.Pid(),
		started:    time.Now(),
		lines:      make(chan string, 16),
		stop:       make(chan struct{}),
		stderr:     newTail(stderrTailSize),
		stderrDone: make(chan struct{}),
	}
	go h.readStdout()
	go h.readStderr(log.With().Int("child_pid", h.pid).Logger())
	return h
}

func (h *handle) readStdout() {
	defer close(h.lines)
	sc := bufio.NewScanner(h.child.Stdout())
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		select {
		case h.lines <- sc.Text():
		case <-h.stop:
			return
		}
	}
	h.readErr = sc.Err()
}

func (h *handle) readStderr(log zerolog.Logger) {
	defer close(h.stderrDone)
	sc := bufio.NewScanner(h.child.Stderr())
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.stderr.add(line)
		log.Debug().Str("line", line).Msg("child stderr")
	}
}

// send writes one line with a single Write call. A child that stops reading
// its stdin fails the write with a timeout; the pending Write is released
// once close terminates the child.
func (h *handle) send(v any, timeout time.Duration, quit <-chan struct{}) error {
	b, err := encodeLine(v)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := h.child.Stdin().Write(b)
		done <- err
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return &Error{Kind: ErrTimeout, Detail: fmt.Sprintf("write did not complete within %s", timeout)}
	case <-quit:
		return &Error{Kind: ErrClosed}
	}
}

// writeFailure wraps a send error, keeping the timeout and closed errors of
// send as they are.
func writeFailure(what string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ErrTransport, Detail: what, Err: err}
}

// readLine waits for the next stdout line. It returns a transport *Error on
// end-of-stream, on timeout, or when quit is closed.
func (h *handle) readLine(timeout time.Duration, quit <-chan struct{}) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-h.lines:
		if !ok {
			return "", h.streamClosed()
		}
		return line, nil
	case <-timer.C:
		return "", &Error{Kind: ErrTimeout, Detail: fmt.Sprintf("no output line within %s", timeout)}
	case <-quit:
		return "", &Error{Kind: ErrClosed}
	}
}

// streamClosed builds the error for an exhausted stdout, preferring the last
// stderr line as diagnostic.
func (h *handle) streamClosed() error {
	select {
	case <-h.stderrDone:
	case <-time.After(stderrSettle):
	}
	return h.failure("stdout closed", h.readErr)
}

// failure reports a TransportError with the stderr diagnostic when there is
// one, and a NoResponseError otherwise. cause may only be h.readErr once the
// lines channel has been observed closed.
func (h *handle) failure(what string, cause error) error {
	if diag := h.stderr.last(); diag != "" {
		return &Error{Kind: ErrTransport, Detail: what + ": " + diag, Err: cause}
	}
	return &Error{Kind: ErrNoResponse, Detail: what, Err: cause}
}

// close terminates the child and releases the reader goroutine.
func (h *handle) close(grace time.Duration) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		err = h.child.Terminate(grace)
	})
	return err
}

// tail keeps the most recent lines written to a stream.
type tail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTail(max int) *tail { return &tail{max: max} }

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}
