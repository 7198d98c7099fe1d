package bridge

import (
	"context"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

func jsonResponse(desc string, schema *openapi3.Schema) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(desc).WithJSONSchema(schema)}
}

func protocolResponses() *openapi3.Responses {
	return openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, jsonResponse(
			"tool server response line, or {\"error\": ...} with the X-Bridge-Error header set",
			openapi3.NewObjectSchema().WithAnyAdditionalProperties())),
		openapi3.WithStatus(http.StatusBadRequest, jsonResponse("invalid request", errorSchema())),
		openapi3.WithStatus(http.StatusServiceUnavailable, jsonResponse("bridge is draining", errorSchema())),
	)
}

func errorSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().WithProperty("error", openapi3.NewStringSchema())
}

func operation(id, summary string, tags ...string) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.Tags = tags
	return op
}

func addOp(paths *openapi3.Paths, path, method string, op *openapi3.Operation) {
	item := paths.Value(path)
	if item == nil {
		item = &openapi3.PathItem{}
		paths.Set(path, item)
	}
	item.SetOperation(method, op)
}

// buildOpenAPI describes the HTTP surface and validates the result.
func buildOpenAPI(version string) (*openapi3.T, error) {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Manim MCP bridge",
			Description: "HTTP access to the Manim tool server",
			Version:     version,
		},
		Paths: openapi3.NewPaths(),
	}
	paths := doc.Paths

	op := operation("healthz", "bridge and tool server status", "status")
	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, jsonResponse("healthy", openapi3.NewObjectSchema().WithAnyAdditionalProperties())),
		openapi3.WithStatus(http.StatusServiceUnavailable, jsonResponse("draining or closed", openapi3.NewObjectSchema().WithAnyAdditionalProperties())),
	)
	addOp(paths, "/healthz", http.MethodGet, op)

	op = operation("listTools", "list the tools of the tool server", "protocol")
	op.Responses = protocolResponses()
	addOp(paths, "/mcp/tools/list", http.MethodPost, op)

	op = operation("callTool", "call a tool by name", "protocol")
	op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(
		openapi3.NewObjectSchema().
			WithProperty("tool_name", openapi3.NewStringSchema()).
			WithProperty("arguments", openapi3.NewObjectSchema().WithAnyAdditionalProperties()))}
	op.Responses = protocolResponses()
	addOp(paths, "/mcp/tools/call", http.MethodPost, op)

	op = operation("request", "send an arbitrary protocol request", "protocol")
	op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(
		openapi3.NewObjectSchema().
			WithProperty("method", openapi3.NewStringSchema()).
			WithProperty("params", openapi3.NewObjectSchema().WithAnyAdditionalProperties()))}
	op.Responses = protocolResponses()
	addOp(paths, "/mcp/request", http.MethodPost, op)

	for _, name := range toolNames() {
		op = operation("tool_"+name, "call "+name, "tools")
		for _, p := range toolRoutes[name] {
			schema := openapi3.NewStringSchema()
			if p.Kind == boolParam {
				schema = openapi3.NewBoolSchema()
			}
			if p.Name == "quality" {
				schema = schema.WithEnum("low_quality", "medium_quality", "high_quality", "production_quality")
			}
			param := openapi3.NewQueryParameter(p.Name).WithSchema(schema).WithRequired(p.Required).WithDescription(p.Description)
			op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: param})
		}
		op.Responses = protocolResponses()
		addOp(paths, "/tools/"+name, http.MethodPost, op)
	}

	op = operation("video", "stream a rendered video", "media")
	op.Parameters = openapi3.Parameters{{Value: openapi3.NewPathParameter("filename").WithSchema(openapi3.NewStringSchema())}}
	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("video/mp4")}),
		openapi3.WithStatus(http.StatusPartialContent, &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("byte range of the video")}),
		openapi3.WithStatus(http.StatusNotFound, jsonResponse("no such video", openapi3.NewObjectSchema().WithProperty("detail", openapi3.NewStringSchema()))),
	)
	addOp(paths, "/video/{filename}", http.MethodGet, op)

	if err := doc.Validate(context.Background()); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.spec)
}
