package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

type paramKind int

const (
	stringParam paramKind = iota
	boolParam
)

type toolParam struct {
	Name        string
	Kind        paramKind
	Required    bool
	Description string
}

// toolRoutes lists the tools reachable through POST /tools/{name} and the
// query parameters each accepts.
var toolRoutes = map[string][]toolParam{
	"write_manim_script": {
		{Name: "content", Required: true, Description: "Python source of the Manim script"},
		{Name: "filename", Description: "script file name, without directories"},
	},
	"render_manim_animation": {
		{Name: "scene_name", Required: true, Description: "scene class to render"},
		{Name: "filepath", Description: "script to render; defaults to the last written script"},
		{Name: "quality", Description: "low_quality, medium_quality, high_quality or production_quality"},
	},
	"get_animation_result": {
		{Name: "job_id", Required: true, Description: "job id returned by the render"},
	},
	"list_directories": {
		{Name: "directory", Description: "directory to list"},
		{Name: "recursive", Kind: boolParam, Description: "list the whole tree"},
		{Name: "show_hidden", Kind: boolParam, Description: "include dot files"},
	},
	"read_file": {
		{Name: "filepath", Required: true, Description: "file to read"},
	},
	"get_video_url": {
		{Name: "job_id", Required: true, Description: "job id returned by the render"},
	},
	"get_manim_help": nil,
}

func toolNames() []string {
	names := make([]string, 0, len(toolRoutes))
	for n := range toolRoutes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// bindToolArgs builds tool arguments from the query string. A JSON object
// body may supply arguments too; query values take precedence.
func bindToolArgs(params []toolParam, q url.Values, body map[string]any) (map[string]any, error) {
	args := map[string]any{}
	for k, v := range body {
		args[k] = v
	}
	for _, p := range params {
		_, inBody := body[p.Name]
		required := p.Required && !inBody
		switch p.Kind {
		case boolParam:
			var v *bool
			if err := runtime.BindQueryParameter("form", true, false, p.Name, q, &v); err != nil {
				return nil, err
			}
			if v != nil {
				args[p.Name] = *v
			}
		default:
			if required {
				var v string
				if err := runtime.BindQueryParameter("form", true, true, p.Name, q, &v); err != nil {
					return nil, err
				}
				args[p.Name] = v
				continue
			}
			var v *string
			if err := runtime.BindQueryParameter("form", true, false, p.Name, q, &v); err != nil {
				return nil, err
			}
			if v != nil {
				args[p.Name] = *v
			}
		}
	}
	return args, nil
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	params, ok := toolRoutes[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tool: " + name})
		return
	}
	var body map[string]any
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
			return
		}
	}
	args, err := bindToolArgs(params, r.URL.Query(), body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp, err := s.callTool(r.Context(), name, args)
	s.writeResult(w, r, resp, err)
}
