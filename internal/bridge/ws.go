package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/manim-mcp/internal/mcpclient"
)

// bridgeErrorCode is the JSON-RPC code sent over the socket when the bridge
// itself fails to obtain a response.
const bridgeErrorCode = -32000

type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wsReply struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      json.RawMessage     `json:"id"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *mcpclient.RPCError `json:"error,omitempty"`
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		opts.OriginPatterns = append(opts.OriginPatterns, o)
	}
	return opts
}

// handleWebSocket carries JSON-RPC messages over a socket. Requests are
// answered with the caller's id; messages without an id are forwarded as
// notifications.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		return
	}
	defer func() { _ = c.Close(websocket.StatusInternalError, "server error") }()
	ctx := r.Context()
	remote := r.RemoteAddr
	s.log.Info().Str("remote", remote).Msg("websocket connected")

	for {
		_, msg, err := c.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				lvl := s.log.Info()
				if ce.Code != websocket.StatusNormalClosure && ce.Code != websocket.StatusGoingAway {
					lvl = s.log.Error()
				}
				lvl.Str("remote", remote).Str("reason", ce.Reason).Msg("websocket disconnected")
			} else {
				s.log.Error().Err(err).Str("remote", remote).Msg("websocket disconnected")
			}
			return
		}
		reply := s.dispatch(ctx, msg)
		if reply == nil {
			continue
		}
		b, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if err := c.Write(ctx, websocket.MessageText, b); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg []byte) *wsReply {
	var m wsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return &wsReply{JSONRPC: mcp.JSONRPC_VERSION, ID: json.RawMessage("null"),
			Error: &mcpclient.RPCError{Code: mcp.PARSE_ERROR, Message: "parse error: " + err.Error()}}
	}
	noID := len(bytes.TrimSpace(m.ID)) == 0 || string(bytes.TrimSpace(m.ID)) == "null"
	if m.Method == "" {
		if noID {
			return nil
		}
		return &wsReply{JSONRPC: mcp.JSONRPC_VERSION, ID: m.ID,
			Error: &mcpclient.RPCError{Code: mcp.INVALID_REQUEST, Message: "method is required"}}
	}
	var params map[string]any
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &params); err != nil {
			if noID {
				return nil
			}
			return &wsReply{JSONRPC: mcp.JSONRPC_VERSION, ID: m.ID,
				Error: &mcpclient.RPCError{Code: mcp.INVALID_PARAMS, Message: "params must be an object"}}
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	if noID {
		if err := s.client.Notify(ctx, m.Method, params); err != nil {
			s.log.Warn().Err(err).Str("method", m.Method).Msg("forward notification")
		}
		return nil
	}

	var (
		resp *mcpclient.Response
		err  error
	)
	if m.Method == string(mcp.MethodToolsCall) {
		name, _ := params["name"].(string)
		args, _ := params["arguments"].(map[string]any)
		resp, err = s.callTool(ctx, name, args)
	} else {
		resp, err = s.client.Call(ctx, m.Method, params)
	}
	reply := &wsReply{JSONRPC: mcp.JSONRPC_VERSION, ID: m.ID}
	switch {
	case err != nil:
		msg := err.Error()
		if kind := mcpclient.KindOf(err); kind != "" && !strings.Contains(msg, kind) {
			msg = kind + ": " + msg
		}
		reply.Error = &mcpclient.RPCError{Code: bridgeErrorCode, Message: msg}
	case resp.Error != nil:
		reply.Error = resp.Error
	default:
		reply.Result = resp.Result
	}
	return reply
}
