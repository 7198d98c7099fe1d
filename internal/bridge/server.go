// Package bridge is the HTTP façade in front of the stdio tool server. Every
// protocol request goes through a single mcpclient.Client; static and video
// assets are served straight from disk.
package bridge

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/manim-mcp/internal/drain"
	"github.com/gaspardpetit/manim-mcp/internal/jobindex"
	"github.com/gaspardpetit/manim-mcp/internal/logx"
	"github.com/gaspardpetit/manim-mcp/internal/mcpclient"
)

// Caller sends protocol requests to the tool server.
type Caller interface {
	Call(ctx context.Context, method string, params any) (*mcpclient.Response, error)
	Notify(ctx context.Context, method string, params any) error
	Status() mcpclient.Status
}

// Options configure the HTTP surface.
type Options struct {
	MediaDir       string
	ClientPage     string
	PublicURL      string
	AllowedOrigins []string
	APIKey         string
	Version        string
	// Gatherer, when set, is exposed at /metrics.
	Gatherer prometheus.Gatherer
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	opts   Options
	client Caller
	jobs   jobindex.Store
	gate   *drain.Gate
	spec   *openapi3.T
	log    zerolog.Logger
}

// New validates the API description and returns a server. A nil jobs store
// keeps the index in memory and a nil gate never drains.
func New(opts Options, client Caller, jobs jobindex.Store, gate *drain.Gate) (*Server, error) {
	if jobs == nil {
		jobs = jobindex.NewMemory()
	}
	if gate == nil {
		gate = drain.NewGate()
	}
	if opts.MediaDir != "" {
		if abs, err := filepath.Abs(opts.MediaDir); err == nil {
			opts.MediaDir = abs
		}
	}
	spec, err := buildOpenAPI(opts.Version)
	if err != nil {
		return nil, err
	}
	return &Server{opts: opts, client: client, jobs: jobs, gate: gate, spec: spec, log: logx.Component("bridge")}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Range", "Accept-Ranges", "Content-Length", "X-Bridge-Error"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID, s.requestLogger)

	r.Get("/", s.handleClientPage)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/video/{filename}", s.handleVideo)
	r.Handle("/output/*", http.StripPrefix("/output/", s.outputFiles()))
	r.Route("/debug", func(dr chi.Router) {
		dr.Use(apiKeyMiddleware(s.opts.APIKey))
		dr.Get("/videos", s.handleDebugVideos)
		dr.Get("/process", s.handleDebugProcess)
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(g chi.Router) {
		g.Use(apiKeyMiddleware(s.opts.APIKey), s.gate.Middleware)
		g.Post("/mcp/tools/list", s.handleToolsList)
		g.Post("/mcp/tools/call", s.handleToolsCall)
		g.Post("/mcp/request", s.handleRequest)
		g.Get("/mcp/ws", s.handleWebSocket)
		g.Post("/tools/{name}", s.handleTool)
	})
	return r
}
