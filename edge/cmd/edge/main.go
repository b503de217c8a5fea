package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/echoguard/echoguard/edge/internal/config"
	"github.com/echoguard/echoguard/edge/internal/melspec"
	"github.com/echoguard/echoguard/edge/internal/simulate"
	"github.com/echoguard/echoguard/edge/internal/uploader"
	"github.com/echoguard/echoguard/pkg/spectrogram"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to echoguard.yaml (defaults apply when empty)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config")
	once := pflag.Bool("once", false, "generate and upload a single snapshot, then exit")
	file := pflag.String("file", "", "convert a NASA bearing recording to a mel spectrogram, upload it, then exit")
	channel := pflag.Int("channel", 0, "bearing channel (0-based column) read by --file")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || pflag.CommandLine.Changed("env-file") {
			fmt.Fprintf(os.Stderr, "echoguard-edge: load env file %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "echoguard-edge: %v\n", err)
			os.Exit(1)
		}
	}
	ec := cfg.Edge

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(ec.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("echoguard-edge starting", "config", *configPath)
	slog.Info("config loaded",
		"endpoint", ec.Storage.Endpoint,
		"bucket", ec.Bucket,
		"interval", ec.Interval,
		"anomaly_probability", ec.AnomalyProbability,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := uploader.NewClient(uploader.Options{
		Endpoint:  ec.Storage.Endpoint,
		AccessKey: ec.Storage.AccessKey(),
		SecretKey: ec.Storage.SecretKey(),
		Region:    ec.Storage.Region,
		UseSSL:    ec.Storage.UseSSL,
	})
	if err != nil {
		slog.Error("failed to build storage client", "err", err)
		os.Exit(1)
	}
	if ec.Storage.CreateBucket {
		if err := uploader.EnsureBucket(ctx, client, ec.Bucket, ec.Storage.Region); err != nil {
			slog.Error("failed to ensure bucket", "bucket", ec.Bucket, "err", err)
			os.Exit(1)
		}
	}
	up := uploader.New(client, ec.Bucket, ec.BufferSize)

	if *file != "" {
		key, payload, err := convertFile(*file, *channel)
		if err == nil {
			err = up.Put(ctx, key, payload)
		}
		if err != nil {
			slog.Error("recording upload failed", "file", *file, "err", err)
			os.Exit(1)
		}
		slog.Info("recording uploaded", "file", *file, "key", key, "bytes", len(payload))
		return
	}

	base, fallback, err := simulate.LoadBase(ec.BaseFile, ec.Seed)
	if err != nil {
		slog.Error("failed to load base spectrogram", "path", ec.BaseFile, "err", err)
		os.Exit(1)
	}
	if fallback {
		slog.Warn("base spectrogram not found, using N(0, 0.1) noise",
			"path", ec.BaseFile, "features", simulate.FallbackFeatures, "steps", simulate.FallbackSteps)
	}
	gen := simulate.New(base, ec.AnomalyProbability, ec.Seed)

	if *once {
		snap := gen.Next()
		payload, err := snap.Encode()
		if err == nil {
			err = up.Put(ctx, snap.Name, payload)
		}
		if err != nil {
			slog.Error("single upload failed", "key", snap.Name, "err", err)
			os.Exit(1)
		}
		return
	}

	go up.Run(ctx)

	intervals := make(chan time.Duration, 1)
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				gen.SetProbability(updated.Edge.AnomalyProbability)
				select {
				case intervals <- updated.Edge.Interval:
				default:
				}
				slog.Info("config hot-reloaded",
					"interval", updated.Edge.Interval,
					"anomaly_probability", updated.Edge.AnomalyProbability)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	ticker := time.NewTicker(ec.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("echoguard-edge shutting down", "pending", up.Pending())
			return
		case d := <-intervals:
			ticker.Reset(d)
		case <-ticker.C:
			snap := gen.Next()
			payload, err := snap.Encode()
			if err != nil {
				slog.Error("encode snapshot", "key", snap.Name, "err", err)
				continue
			}
			up.Enqueue(snap.Name, payload)
			if snap.Anomaly {
				slog.Warn("anomaly snapshot generated", "key", snap.Name)
			} else {
				slog.Debug("normal snapshot generated", "key", snap.Name)
			}
		}
	}
}

// convertFile turns one bearing recording into an encoded mel spectrogram and
// the object key it is uploaded under.
func convertFile(path string, channel int) (string, []byte, error) {
	sig, err := melspec.LoadBearing(path, channel)
	if err != nil {
		return "", nil, err
	}
	tr, err := melspec.New(melspec.DefaultOptions())
	if err != nil {
		return "", nil, err
	}
	s, err := tr.Spectrogram(sig)
	if err != nil {
		return "", nil, err
	}
	var buf bytes.Buffer
	if err := spectrogram.Encode(&buf, s); err != nil {
		return "", nil, err
	}
	return melspec.ObjectKey(path), buf.Bytes(), nil
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
