package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/manim-mcp/internal/bridge"
	"github.com/gaspardpetit/manim-mcp/internal/config"
	"github.com/gaspardpetit/manim-mcp/internal/drain"
	"github.com/gaspardpetit/manim-mcp/internal/jobindex"
	"github.com/gaspardpetit/manim-mcp/internal/logx"
	"github.com/gaspardpetit/manim-mcp/internal/mcpclient"
	"github.com/gaspardpetit/manim-mcp/internal/metrics"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.BridgeConfig
	cfg.BindFlags()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "manim-bridge version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("manim-bridge version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	if cfg.MCP.ClientVersion == "" {
		cfg.MCP.ClientVersion = version
	}
	cfg.MCP.SetDefaults()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	var jobs jobindex.Store = jobindex.NewMemory()
	var redisJobs *jobindex.Redis
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rs, err := jobindex.NewRedis(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		jobs, redisJobs = rs, rs
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis job index")
	}

	client := mcpclient.New(cfg.MCP, mcpclient.NewCommandLauncher(cfg.MCP))
	gate := drain.NewGate()
	opts := bridge.Options{
		MediaDir:       cfg.MediaDir,
		ClientPage:     cfg.ClientPage,
		PublicURL:      cfg.PublicURL,
		AllowedOrigins: cfg.AllowedOrigins,
		APIKey:         cfg.APIKey,
		Version:        version,
	}
	if cfg.MetricsOnMainPort() {
		opts.Gatherer = reg
	}
	b, err := bridge.New(opts, client, jobs, gate)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("build bridge")
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: b.Handler(), ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if !cfg.MetricsOnMainPort() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if gate.Draining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			gate.Start()
			waitCtx := context.Background()
			if cfg.DrainTimeout > 0 {
				logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Msg("draining; send SIGTERM again to terminate immediately")
				var waitCancel context.CancelFunc
				waitCtx, waitCancel = context.WithTimeout(waitCtx, cfg.DrainTimeout)
				go func() { <-ctx.Done(); waitCancel() }()
			} else {
				logx.Log.Info().Msg("draining; send SIGTERM again to terminate immediately")
			}
			go func() {
				if gate.Wait(waitCtx) {
					logx.Log.Info().Msg("drained")
				} else if ctx.Err() == nil {
					logx.Log.Warn().Int64("in_flight", gate.InFlight()).Msg("drain timeout exceeded; terminating")
				}
				cancel()
			}()
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
	}()
	if metricsSrv != nil {
		go func() {
			<-ctx.Done()
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	if cfg.APIKey != "" {
		logx.Log.Info().Msg("API key auth enabled")
	}
	logx.Log.Info().Int("port", cfg.Port).Str("command", cfg.MCP.Command).Str("media_dir", cfg.MediaDir).Msg("bridge starting")
	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-ctx.Done()

	closeCtx, done := context.WithTimeout(context.Background(), cfg.MCP.StopTimeout+5*time.Second)
	defer done()
	if err := client.Close(closeCtx); err != nil {
		logx.Log.Error().Err(err).Msg("stop tool server")
	}
	if redisJobs != nil {
		_ = redisJobs.Close()
	}
	logx.Log.Info().Msg("bridge stopped")
}
