package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/manim-mcp/internal/config"
	"github.com/gaspardpetit/manim-mcp/internal/logx"
	"github.com/gaspardpetit/manim-mcp/internal/manim"
	"github.com/gaspardpetit/manim-mcp/internal/pathenv"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ToolConfig
	cfg.BindFlags()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "manim-mcp version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		// stdout is free until the protocol loop starts
		fmt.Printf("manim-mcp version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	log := logx.Component("toolserver")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("tool server")
	}
	log.Info().Msg("tool server stopped")
}

// serve runs the protocol loop on in/out until in is exhausted or ctx ends.
func serve(ctx context.Context, cfg config.ToolConfig, in io.Reader, out io.Writer) error {
	log := logx.Component("toolserver")
	layout, err := pathenv.New(cfg.ContainerMode(pathenv.InContainer()), cfg.ProjectRoot, cfg.MediaDir)
	if err != nil {
		return fmt.Errorf("resolve workspace layout: %w", err)
	}
	ws := manim.NewWorkspace(layout, manim.ExecRunner{}, manim.Options{
		Python:        cfg.Python,
		RenderTimeout: cfg.RenderTimeout,
		PublicURL:     cfg.PublicURL,
	}, logx.Component("manim"))

	log.Info().
		Bool("container", layout.Container).
		Str("root", layout.WorkspaceRoot()).
		Str("media_dir", layout.MediaDir).
		Strs("allowed", layout.Allowed).
		Str("version", version).
		Msg("tool server starting")

	stdio := server.NewStdioServer(manim.NewServer(ws, version))
	stdio.SetErrorLogger(stdlog.New(logWriter{log: logx.Component("stdio")}, "", 0))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// logWriter forwards the protocol library's log lines to the shared logger.
type logWriter struct {
	log zerolog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Error().Msg(strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}
