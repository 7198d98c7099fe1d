package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/manim-mcp/internal/jobindex"
	"github.com/gaspardpetit/manim-mcp/internal/mcpclient"
	"github.com/gaspardpetit/manim-mcp/internal/metrics"
)

const maxBodyBytes = 8 << 20

// ToolCall is the body of POST /mcp/tools/call.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Request is the body of POST /mcp/request.
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResult returns the tool server response line verbatim. Failures are
// reported as {"error": ...} with status 200, the shape browser clients
// already handle; X-Bridge-Error carries the failure kind.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, resp *mcpclient.Response, err error) {
	if err != nil {
		kind := mcpclient.KindOf(err)
		switch {
		case kind != "":
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			kind = "canceled"
		default:
			kind = "internal"
		}
		s.log.Warn().Err(err).Str("kind", kind).Str("url", r.URL.Path).Msg("protocol call failed")
		w.Header().Set("X-Bridge-Error", kind)
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Raw)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	resp, err := s.client.Call(r.Context(), string(mcp.MethodToolsList), map[string]any{})
	s.writeResult(w, r, resp, err)
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	var tc ToolCall
	if err := decodeBody(r, &tc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if tc.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool_name is required"})
		return
	}
	resp, err := s.callTool(r.Context(), tc.ToolName, tc.Arguments)
	s.writeResult(w, r, resp, err)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "method is required"})
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	if req.Method == string(mcp.MethodToolsCall) {
		name, _ := req.Params["name"].(string)
		args, _ := req.Params["arguments"].(map[string]any)
		resp, err := s.callTool(r.Context(), name, args)
		s.writeResult(w, r, resp, err)
		return
	}
	resp, err := s.client.Call(r.Context(), req.Method, req.Params)
	s.writeResult(w, r, resp, err)
}

// callTool issues tools/call and records render jobs in the index.
func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (*mcpclient.Response, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := s.client.Call(ctx, string(mcp.MethodToolsCall), mcp.CallToolParams{Name: name, Arguments: args})
	if err == nil && name == "render_manim_animation" {
		s.recordJob(resp, args)
	}
	return resp, err
}

var jobIDPattern = regexp.MustCompile(`Job ID: ([0-9a-fA-F-]{36})`)

func (s *Server) recordJob(resp *mcpclient.Response, args map[string]any) {
	text, err := resp.ToolText()
	if err != nil {
		return
	}
	m := jobIDPattern.FindStringSubmatch(text)
	if m == nil {
		return
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return
	}
	var res struct {
		IsError bool `json:"isError"`
	}
	_ = json.Unmarshal(resp.Result, &res)
	rec := jobindex.Record{JobID: id.String(), Success: !res.IsError, CreatedAt: time.Now().UTC()}
	rec.Scene, _ = args["scene_name"].(string)
	rec.Quality, _ = args["quality"].(string)
	if rec.Quality == "" {
		rec.Quality = "low_quality"
	}
	// index writes outlive the HTTP request
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.jobs.Put(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("job_id", rec.JobID).Msg("record job")
		return
	}
	metrics.RecordJob()
	s.log.Info().Str("job_id", rec.JobID).Str("scene", rec.Scene).Bool("success", rec.Success).Msg("render job recorded")
}
