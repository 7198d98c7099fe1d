package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// script plays the tool server side of one spawned child.
type script func(in *bufio.Scanner, out io.Writer, stderr io.Writer)

type fakeLauncher struct {
	mu       sync.Mutex
	scripts  []script
	children []*fakeChild
	fail     error
}

func (l *fakeLauncher) Launch(ctx context.Context) (Child, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	i := len(l.children)
	run := l.scripts[len(l.scripts)-1]
	if i < len(l.scripts) {
		run = l.scripts[i]
	}
	c := newFakeChild(1000 + i)
	l.children = append(l.children, c)
	go func() {
		defer c.outW.Close()
		defer c.errW.Close()
		sc := bufio.NewScanner(c.inR)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		run(sc, c.outW, c.errW)
	}()
	return c, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.children)
}

func (l *fakeLauncher) child(i int) *fakeChild {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.children[i]
}

type fakeChild struct {
	pid        int
	inR        *io.PipeReader
	inW        *io.PipeWriter
	outR       *io.PipeReader
	outW       *io.PipeWriter
	errR       *io.PipeReader
	errW       *io.PipeWriter
	once       sync.Once
	terminated chan struct{}
}

func newFakeChild(pid int) *fakeChild {
	c := &fakeChild{pid: pid, terminated: make(chan struct{})}
	c.inR, c.inW = io.Pipe()
	c.outR, c.outW = io.Pipe()
	c.errR, c.errW = io.Pipe()
	return c
}

func (c *fakeChild) Stdin() io.Writer  { return c.inW }
func (c *fakeChild) Stdout() io.Reader { return c.outR }
func (c *fakeChild) Stderr() io.Reader { return c.errR }
func (c *fakeChild) Pid() int          { return c.pid }

func (c *fakeChild) Terminate(time.Duration) error {
	c.once.Do(func() {
		_ = c.inW.Close()
		_ = c.outR.Close()
		_ = c.errR.Close()
		close(c.terminated)
	})
	return nil
}

func (c *fakeChild) isTerminated() bool {
	select {
	case <-c.terminated:
		return true
	default:
		return false
	}
}

func writeLine(out io.Writer, v any) {
	b, _ := json.Marshal(v)
	_, _ = out.Write(append(b, '\n'))
}

// serveMCP answers every line with the in-process mcp-go server.
func serveMCP(srv *server.MCPServer) script {
	return func(in *bufio.Scanner, out io.Writer, _ io.Writer) {
		for in.Scan() {
			resp := srv.HandleMessage(context.Background(), json.RawMessage(in.Text()))
			if resp != nil {
				writeLine(out, resp)
			}
		}
	}
}

// handshakeThen answers initialize properly and hands the following lines to
// next, one at a time.
func handshakeThen(next func(line string, out, stderr io.Writer) bool) script {
	return handshakeWith(map[string]any{"name": "fake", "version": "0"}, next)
}

// handshakeWith is handshakeThen with a custom serverInfo value.
func handshakeWith(serverInfo any, next func(line string, out, stderr io.Writer) bool) script {
	return func(in *bufio.Scanner, out io.Writer, stderr io.Writer) {
		for in.Scan() {
			var msg struct {
				ID     json.RawMessage `json:"id"`
				Method string          `json:"method"`
			}
			_ = json.Unmarshal(in.Bytes(), &msg)
			switch msg.Method {
			case "initialize":
				writeLine(out, map[string]any{
					"jsonrpc": "2.0",
					"id":      msg.ID,
					"result": map[string]any{
						"protocolVersion": ProtocolVersion,
						"capabilities":    map[string]any{},
						"serverInfo":      serverInfo,
					},
				})
			case methodInitialized:
			default:
				if !next(in.Text(), out, stderr) {
					return
				}
			}
		}
	}
}

func silent(string, io.Writer, io.Writer) bool { return true }

// deafAfterHandshake completes the handshake, then stops reading stdin until
// release is closed, so writes to the child block.
func deafAfterHandshake(release <-chan struct{}) script {
	return func(in *bufio.Scanner, out io.Writer, _ io.Writer) {
		if in.Scan() {
			var msg struct {
				ID json.RawMessage `json:"id"`
			}
			_ = json.Unmarshal(in.Bytes(), &msg)
			writeLine(out, map[string]any{
				"jsonrpc": "2.0",
				"id":      msg.ID,
				"result":  map[string]any{"protocolVersion": ProtocolVersion, "serverInfo": map[string]any{"name": "deaf"}},
			})
		}
		in.Scan()
		<-release
	}
}

// echoLines answers tools/call with a fixed text result.
func echoLines(line string, out, _ io.Writer) bool {
	var msg struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal([]byte(line), &msg)
	writeLine(out, map[string]any{
		"jsonrpc": "2.0",
		"id":      msg.ID,
		"result":  map[string]any{"content": []map[string]any{{"type": "text", "text": "ok"}}},
	})
	return true
}

func badHandshake(in *bufio.Scanner, out io.Writer, _ io.Writer) {
	if in.Scan() {
		_, _ = io.WriteString(out, "Traceback: not a protocol line\n")
	}
	for in.Scan() {
	}
}

// testServer exposes an echo tool and a gate tool that blocks until release
// is closed, recording call order and the peak number of concurrent calls.
type testServer struct {
	srv     *server.MCPServer
	release chan struct{}

	mu      sync.Mutex
	order   []string
	active  int
	maxSeen int
}

func newTestServer() *testServer {
	ts := &testServer{release: make(chan struct{})}
	ts.srv = server.NewMCPServer("test-tools", "1.0.0", server.WithToolCapabilities(false))
	ts.srv.AddTool(
		mcp.NewTool("echo", mcp.WithString("text", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text := req.GetString("text", "")
			ts.enter(text)
			defer ts.leave()
			time.Sleep(2 * time.Millisecond)
			return mcp.NewToolResultText("echo: " + text), nil
		},
	)
	ts.srv.AddTool(
		mcp.NewTool("gate", mcp.WithString("text", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text := req.GetString("text", "")
			ts.enter(text)
			defer ts.leave()
			<-ts.release
			return mcp.NewToolResultText(text), nil
		},
	)
	return ts
}

func (ts *testServer) enter(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.order = append(ts.order, name)
	ts.active++
	if ts.active > ts.maxSeen {
		ts.maxSeen = ts.active
	}
}

func (ts *testServer) leave() {
	ts.mu.Lock()
	ts.active--
	ts.mu.Unlock()
}

func (ts *testServer) calls() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.order...)
}

func testConfig() Config {
	return Config{
		Command:     "fake-tool-server",
		InitTimeout: time.Second,
		CallTimeout: 2 * time.Second,
		StopTimeout: 100 * time.Millisecond,
	}
}

func waitFor(cond func() bool) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return errors.New("condition not met")
}

func label(i int) string { return fmt.Sprintf("call-%02d", i) }
