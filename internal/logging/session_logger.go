// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches every record to two
// handlers. Used by NewConnectionLogger to write simultaneously to the
// process-wide logger and a connection's dedicated debug log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Enabled() is checked per handler so a DEBUG record reaching the
	// secondary (always-debug) file handler doesn't also get forced onto
	// a primary handler configured at a higher level.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the connection's debug file must not take down
	// the process-wide log stream.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewConnectionLogger creates a logger that writes to both baseLogger and
// a dedicated per-connection debug log file at:
//
//	{debugLogDir}/conn-{connID}.log
//
// It returns the combined logger, an io.Closer that must be called (defer)
// when the connection closes, and the path of the file created (debugLogDir
// joined with the file name, so relative when debugLogDir is relative).
//
// If debugLogDir is empty, it returns baseLogger unmodified (a no-op).
func NewConnectionLogger(baseLogger *slog.Logger, debugLogDir string, connID uint64) (*slog.Logger, io.Closer, string, error) {
	if debugLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(debugLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating connection debug log directory %s: %w", debugLogDir, err)
	}

	logPath := filepath.Join(debugLogDir, fmt.Sprintf("conn-%d.log", connID))
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening connection debug log file %s: %w", logPath, err)
	}

	// The per-connection file always captures at DEBUG, regardless of the
	// process-wide level, since it exists specifically to diagnose one
	// connection's wire traffic after the fact.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveConnectionLog removes the debug log file for a connection that
// closed cleanly. No-op if debugLogDir is empty or the file doesn't exist.
func RemoveConnectionLog(debugLogDir string, connID uint64) {
	if debugLogDir == "" {
		return
	}
	os.Remove(filepath.Join(debugLogDir, fmt.Sprintf("conn-%d.log", connID)))
}
