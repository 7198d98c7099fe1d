package mcpclient

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/manim-mcp/internal/metrics"
)

// idSeq is the process-wide request id counter. It starts at 1 and never
// reuses a value, across child restarts included.
type idSeq struct{ n int64 }

func (s *idSeq) next() int64 {
	s.n++
	return s.n
}

// Supervisor decides when the tool server child is spawned and terminated.
// It is not safe for concurrent use; Client confines it to its actor goroutine.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	ids      *idSeq
	log      zerolog.Logger

	cur    *handle
	spawns int64
}

func newSupervisor(cfg Config, launcher Launcher, ids *idSeq, log zerolog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, launcher: launcher, ids: ids, log: log}
}

// EnsureStarted returns the live, initialized child, spawning one and running
// the handshake when there is none. On failure nothing is cached and the next
// call spawns afresh.
func (s *Supervisor) EnsureStarted(quit <-chan struct{}) (*handle, error) {
	if s.cur != nil {
		return s.cur, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InitTimeout)
	defer cancel()
	s.log.Info().Str("command", s.cfg.Command).Strs("args", s.cfg.Args).Msg("starting tool server")
	child, err := s.launcher.Launch(ctx)
	if err != nil {
		metrics.ChildSpawn("spawn_error")
		return nil, &Error{Kind: ErrSpawn, Err: err}
	}
	h := newHandle(child, s.log)
	if err := s.handshake(h, quit); err != nil {
		metrics.ChildSpawn("handshake_error")
		_ = h.close(s.cfg.StopTimeout)
		s.log.Warn().Err(err).Int("child_pid", h.pid).Msg("tool server handshake failed")
		return nil, err
	}
	s.spawns++
	s.cur = h
	metrics.ChildSpawn("success")
	metrics.SetChildUp(true)
	s.log.Info().
		Int("child_pid", h.pid).
		Str("server", h.serverName).
		Str("server_version", h.serverVersion).
		Str("protocol", h.protocol).
		Msg("tool server ready")
	return h, nil
}

func (s *Supervisor) handshake(h *handle, quit <-chan struct{}) error {
	id := s.ids.next()
	req := request{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      &id,
		Method:  string(mcp.MethodInitialize),
		Params: mcp.InitializeParams{
			ProtocolVersion: s.cfg.ProtocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      mcp.Implementation{Name: s.cfg.ClientName, Version: s.cfg.ClientVersion},
		},
	}
	if err := h.send(req, s.cfg.InitTimeout, quit); err != nil {
		return &Error{Kind: ErrHandshake, Detail: "write initialize", Err: err}
	}
	line, err := h.readLine(s.cfg.InitTimeout, quit)
	if err != nil {
		return &Error{Kind: ErrHandshake, Detail: "read initialize response", Err: err}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return &Error{Kind: ErrHandshake, Detail: "initialize response is not JSON", Raw: line, Err: err}
	}
	result, ok := fields["result"]
	if !ok {
		return &Error{Kind: ErrHandshake, Detail: "initialize response has no result", Raw: line}
	}
	var init struct {
		ProtocolVersion string             `json:"protocolVersion"`
		ServerInfo      mcp.Implementation `json:"serverInfo"`
	}
	if err := json.Unmarshal(result, &init); err != nil {
		s.log.Debug().Err(err).Str("result", string(result)).Msg("initialize result not understood")
	}
	h.serverName = init.ServerInfo.Name
	h.serverVersion = init.ServerInfo.Version
	h.protocol = init.ProtocolVersion
	if h.protocol != "" && h.protocol != s.cfg.ProtocolVersion {
		s.log.Warn().Str("server_protocol", h.protocol).Str("client_protocol", s.cfg.ProtocolVersion).Msg("protocol version differs")
	}
	if err := h.send(request{JSONRPC: mcp.JSONRPC_VERSION, Method: methodInitialized}, s.cfg.InitTimeout, quit); err != nil {
		return &Error{Kind: ErrHandshake, Detail: "write initialized notification", Err: err}
	}
	return nil
}

// Invalidate terminates the current child, if any, so the next call respawns.
func (s *Supervisor) Invalidate(reason error) {
	if s.cur == nil {
		return
	}
	h := s.cur
	s.cur = nil
	metrics.SetChildUp(false)
	metrics.ChildInvalidated(KindOf(reason))
	s.log.Warn().Err(reason).Int("child_pid", h.pid).Msg("discarding tool server")
	if err := h.close(s.cfg.StopTimeout); err != nil {
		s.log.Debug().Err(err).Int("child_pid", h.pid).Msg("tool server exit")
	}
}

// Shutdown terminates the child and waits for it to exit.
func (s *Supervisor) Shutdown() error {
	if s.cur == nil {
		return nil
	}
	h := s.cur
	s.cur = nil
	metrics.SetChildUp(false)
	s.log.Info().Int("child_pid", h.pid).Msg("stopping tool server")
	return h.close(s.cfg.StopTimeout)
}

// current returns the live handle without spawning.
func (s *Supervisor) current() *handle { return s.cur }

// Spawns returns the number of children that completed the handshake.
func (s *Supervisor) Spawns() int64 { return s.spawns }
