package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/echoguard/echoguard/scorer/internal/alerts"
	"github.com/echoguard/echoguard/scorer/internal/api"
	"github.com/echoguard/echoguard/scorer/internal/auth"
	"github.com/echoguard/echoguard/scorer/internal/config"
	"github.com/echoguard/echoguard/scorer/internal/events"
	"github.com/echoguard/echoguard/scorer/internal/inference"
	"github.com/echoguard/echoguard/scorer/internal/metrics"
	"github.com/echoguard/echoguard/scorer/internal/pipeline"
	"github.com/echoguard/echoguard/scorer/internal/rpc"
	"github.com/echoguard/echoguard/scorer/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to echoguard.yaml (defaults apply when empty)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config")
	invoke := pflag.String("invoke", "", "score a single object given as bucket/key, print the outcome and exit")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || pflag.CommandLine.Changed("env-file") {
			fmt.Fprintf(os.Stderr, "echoguard-scorer: load env file %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "echoguard-scorer: %v\n", err)
			os.Exit(1)
		}
	}
	sc := cfg.Scorer

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(sc.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("echoguard-scorer starting", "config", *configPath)
	slog.Info("config loaded",
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"storage_backend", sc.Storage.Backend,
		"results_backend", sc.Results.Backend,
		"model", sc.Model.Path,
		"window_width", sc.Window.Width,
		"window_stride", sc.Window.Stride,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fetcher, err := newFetcher(sc.Storage)
	if err != nil {
		slog.Error("failed to build object storage client", "err", err)
		os.Exit(1)
	}
	rs, err := newResultStore(ctx, sc.Results)
	if err != nil {
		slog.Error("failed to build result store", "backend", sc.Results.Backend, "err", err)
		os.Exit(1)
	}
	defer rs.Close()

	recorder := metrics.New()
	alertEngine := alerts.New(sc.Alerts)
	hub := ws.New(rs.lister, sc.Stream.Interval, ws.DefaultLimit)

	ctrl, err := pipeline.New(pipeline.Options{
		ModelPath:        sc.Model.Path,
		ConfigPath:       sc.Model.ConfigPath,
		DefaultThreshold: sc.Model.DefaultThreshold,
		Width:            sc.Window.Width,
		Stride:           sc.Window.Stride,
		DeviceID:         sc.DeviceID,
		Load: func(path string) (inference.Model, error) {
			m, err := inference.LoadONNX(path, sc.Model.RuntimeLib)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		Fetcher:   fetcher,
		Store:     rs.store,
		Observers: []pipeline.Observer{recorder, hub, alertEngine},
		Logger:    logger,
	})
	if err != nil {
		slog.Error("failed to build pipeline controller", "err", err)
		os.Exit(1)
	}
	defer ctrl.Close() //nolint:errcheck

	if *invoke != "" {
		code := invokeOnce(ctx, ctrl, *invoke)
		ctrl.Close() //nolint:errcheck
		rs.Close()
		os.Exit(code)
	}

	if rs.memory != nil {
		go rs.memory.Run(ctx)
	}
	go hub.Run(ctx)

	filter := events.Filter{Suffix: sc.Events.Suffix}
	for _, src := range newSources(sc.Events, filter) {
		go runSource(ctx, src, ctrl.Dispatch)
	}

	// gRPC health, NOT_SERVING until the first successful model load.
	rpcSrv := rpc.New(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC health listening", "port", sc.GRPCPort)
		if err := rpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()
	go rpcSrv.Watch(ctx, time.Second, ctrl.Ready)

	// REST API, metrics and the WebSocket feed share HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Options{
		Controller: ctrl,
		Results:    rs.lister,
		Backend:    sc.Results.Backend,
		Filter:     filter,
		Alerts:     alertEngine,
		Counters:   recorder,
	}))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", recorder.Handler())

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", sc.HTTPPort),
		Handler: auth.Middleware(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key(), httpMux,
			"/metrics", "/api/v1/health"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("echoguard-scorer shutting down")
	rpcSrv.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	alertEngine.Wait()
}

// invokeOnce scores bucket/key, writes the JSON outcome to stdout and returns
// the process exit code.
func invokeOnce(ctx context.Context, ctrl *pipeline.Controller, target string) int {
	bucket, key, ok := strings.Cut(target, "/")
	if !ok || bucket == "" || key == "" {
		slog.Error("--invoke wants bucket/key", "got", target)
		return 2
	}
	code, body := pipeline.Outcome(ctrl.Handle(ctx, events.Event{Bucket: bucket, Key: key}))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(map[string]any{"statusCode": code, "body": body}) //nolint:errcheck
	if code != http.StatusOK {
		return 1
	}
	return 0
}

// runSource keeps src running until ctx is cancelled, restarting it after a
// pause when it stops with an error.
func runSource(ctx context.Context, src namedSource, dispatch events.Dispatch) {
	const retry = 5 * time.Second
	for {
		slog.Info("event source starting", "source", src.name)
		err := src.Run(ctx, dispatch)
		if ctx.Err() != nil {
			return
		}
		slog.Error("event source stopped, restarting", "source", src.name, "err", err, "retry_in", retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func logLevel(configured string) slog.Level {
	s := configured
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s = v
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
