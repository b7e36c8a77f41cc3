// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command boltprobe periodically connects to a Bolt server and runs a
// trivial statement, logging the round trip. It exists to exercise
// Connect/Run/PullAll/Sync/Close end to end against a live server, the
// way a health-check sidecar would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nishisan-dev/nbolt"
	"github.com/nishisan-dev/nbolt/internal/logging"
	"github.com/robfig/cron/v3"
)

func main() {
	configPath := flag.String("config", "/etc/nbolt/boltprobe.yaml", "path to probe config file")
	uri := flag.String("uri", "", "bolt URI to probe (overrides config file if set)")
	schedule := flag.String("schedule", "", "cron schedule for repeated probing; empty means probe once and exit")
	flag.Parse()

	cfg := nbolt.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := nbolt.LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()
	slog.SetDefault(logger)

	target := *uri
	if target == "" {
		target = os.Getenv("NBOLT_PROBE_URI")
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "no target URI: pass -uri or set NBOLT_PROBE_URI")
		os.Exit(1)
	}

	if *schedule == "" {
		if err := probeOnce(context.Background(), target, cfg, logger); err != nil {
			logger.Error("probe failed", "error", err)
			os.Exit(1)
		}
		return
	}

	runDaemon(target, cfg, *schedule, logger)
}

func runDaemon(target string, cfg nbolt.Config, schedule string, logger *slog.Logger) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := probeOnce(context.Background(), target, cfg, logger); err != nil {
			logger.Error("probe failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("invalid cron schedule", "schedule", schedule, "error", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("boltprobe daemon started", "schedule", schedule)
	select {}
}

func probeOnce(ctx context.Context, target string, cfg nbolt.Config, logger *slog.Logger) error {
	start := time.Now()
	conn, err := nbolt.Connect(ctx, target, cfg)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	var got int64
	if err := conn.Run("RETURN 1", nil, func(r nbolt.Response) {
		if r.Kind == nbolt.ResponseFailure {
			logger.Error("RUN failed", "meta", r.Data)
		}
	}); err != nil {
		return fmt.Errorf("enqueuing RUN: %w", err)
	}
	if err := conn.PullAll(func(r nbolt.Response) {
		if r.Kind == nbolt.ResponseRecord {
			if fields, ok := r.Data.([]nbolt.Value); ok && len(fields) > 0 {
				if n, ok := fields[0].(int64); ok {
					got = n
				}
			}
		}
	}); err != nil {
		return fmt.Errorf("enqueuing PULL_ALL: %w", err)
	}

	if err := conn.Sync(0); err != nil {
		return fmt.Errorf("syncing: %w", err)
	}

	logger.Info("probe ok", "server_id", conn.ServerID, "rtt", time.Since(start), "value", got)
	return nil
}
