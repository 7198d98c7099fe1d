package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/manim-mcp/internal/logx"
	"github.com/gaspardpetit/manim-mcp/internal/metrics"
)

// State labels reported by Status.
const (
	StateIdle    = "idle"
	StateReady   = "ready"
	StateClosed  = "closed"
	StateFailing = "failing"
)

// Status is a point-in-time view of the client and its child process.
type Status struct {
	State         string    `json:"state"`
	Pid           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	Restarts      int64     `json:"restarts"`
	Calls         int64     `json:"calls"`
	Queued        int64     `json:"queued"`
	LastError     string    `json:"last_error,omitempty"`
	ServerName    string    `json:"server_name,omitempty"`
	ServerVersion string    `json:"server_version,omitempty"`
	Protocol      string    `json:"protocol,omitempty"`
}

type outcome struct {
	resp *Response
	err  error
}

type pending struct {
	method string
	params any
	notify bool
	result chan outcome
}

// Client serializes calls from any number of goroutines onto the single
// stdio pipe of the tool server. One actor goroutine owns the Supervisor and
// processes queued calls strictly in arrival order, one at a time.
type Client struct {
	cfg Config
	sup *Supervisor
	ids idSeq

	queue     chan *pending
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	waiting   atomic.Int64

	mu     sync.Mutex
	status Status
}

// New returns a Client that spawns its child through launcher on first use.
func New(cfg Config, launcher Launcher) *Client {
	cfg.SetDefaults()
	c := &Client{
		cfg:    cfg,
		queue:  make(chan *pending),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		status: Status{State: StateIdle},
	}
	c.sup = newSupervisor(cfg, launcher, &c.ids, logx.Component("mcpclient"))
	go c.loop()
	return c
}

// Call sends one request and waits for its response. A call that was admitted
// by the actor runs to completion even when ctx ends first.
func (c *Client) Call(ctx context.Context, method string, params any) (*Response, error) {
	return c.submit(ctx, &pending{method: method, params: params})
}

// Notify sends a notification; no response is read.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	_, err := c.submit(ctx, &pending{method: method, params: params, notify: true})
	return err
}

// ListTools issues tools/list.
func (c *Client) ListTools(ctx context.Context) (*Response, error) {
	return c.Call(ctx, string(mcp.MethodToolsList), map[string]any{})
}

// CallTool issues tools/call for the named tool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*Response, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.Call(ctx, string(mcp.MethodToolsCall), mcp.CallToolParams{Name: name, Arguments: args})
}

func (c *Client) submit(ctx context.Context, p *pending) (*Response, error) {
	p.result = make(chan outcome, 1)
	metrics.SetQueueDepth(c.waiting.Add(1))
	select {
	case c.queue <- p:
		metrics.SetQueueDepth(c.waiting.Add(-1))
	case <-ctx.Done():
		metrics.SetQueueDepth(c.waiting.Add(-1))
		return nil, ctx.Err()
	case <-c.quit:
		metrics.SetQueueDepth(c.waiting.Add(-1))
		return nil, &Error{Kind: ErrClosed}
	}
	select {
	case out := <-p.result:
		return out.resp, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting calls, terminates the child and waits for the actor
// to exit or ctx to end.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.quit) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the current child and call counters.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Queued = c.waiting.Load()
	return st
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		select {
		case p := <-c.queue:
			start := time.Now()
			resp, err := c.exchange(p)
			metrics.ObserveCall(p.method, outcomeLabel(resp, err), time.Since(start))
			c.record(err)
			p.result <- outcome{resp: resp, err: err}
		case <-c.quit:
			if err := c.sup.Shutdown(); err != nil {
				c.sup.log.Debug().Err(err).Msg("tool server exit")
			}
			c.mu.Lock()
			c.status.State = StateClosed
			c.status.Pid = 0
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) exchange(p *pending) (*Response, error) {
	h, err := c.sup.EnsureStarted(c.quit)
	if err != nil {
		return nil, err
	}
	if p.notify {
		if err := h.send(request{JSONRPC: mcp.JSONRPC_VERSION, Method: p.method, Params: p.params}, c.cfg.CallTimeout, c.quit); err != nil {
			return nil, c.writeFailed("write notification", err)
		}
		return nil, nil
	}
	id := c.ids.next()
	if err := h.send(request{JSONRPC: mcp.JSONRPC_VERSION, ID: &id, Method: p.method, Params: p.params}, c.cfg.CallTimeout, c.quit); err != nil {
		return nil, c.writeFailed("write request", err)
	}
	for {
		line, err := h.readLine(c.cfg.CallTimeout, c.quit)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil, err
			}
			return nil, c.fail(err)
		}
		if strings.TrimSpace(line) == "" {
			return nil, c.fail(h.failure("empty line", nil))
		}
		resp, notification, err := decodeLine(line)
		if err != nil {
			return nil, c.fail(err)
		}
		if notification {
			c.sup.log.Debug().Int("child_pid", h.pid).Str("line", line).Msg("skipping server notification")
			continue
		}
		if !sameID(resp.ID, id) {
			return nil, c.fail(&Error{
				Kind:   ErrProtocolDecode,
				Detail: fmt.Sprintf("response id %s does not match request id %d", string(resp.ID), id),
				Raw:    line,
			})
		}
		return resp, nil
	}
}

func (c *Client) writeFailed(what string, err error) error {
	err = writeFailure(what, err)
	if errors.Is(err, ErrClosed) {
		return err
	}
	return c.fail(err)
}

// fail invalidates the child; the stream can no longer be trusted.
func (c *Client) fail(err error) error {
	c.sup.Invalidate(err)
	return err
}

func (c *Client) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Calls++
	if n := c.sup.Spawns(); n > 1 {
		c.status.Restarts = n - 1
	}
	if err != nil {
		c.status.LastError = err.Error()
	}
	if h := c.sup.current(); h != nil {
		c.status.State = StateReady
		c.status.Pid = h.pid
		c.status.StartedAt = h.started
		c.status.ServerName = h.serverName
		c.status.ServerVersion = h.serverVersion
		c.status.Protocol = h.protocol
		return
	}
	c.status.Pid = 0
	if err != nil {
		c.status.State = StateFailing
	} else {
		c.status.State = StateIdle
	}
}

func outcomeLabel(resp *Response, err error) string {
	switch {
	case err != nil:
		return KindOf(err)
	case resp != nil && resp.Error != nil:
		return "rpc_error"
	default:
		return "ok"
	}
}
