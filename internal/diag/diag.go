// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag implements the linker's diagnostic buffer and structured
// logger (spec.md §7): a mutex-guarded append-only list of findings plus an
// atomic fatal flag, drained in deterministic (file, section, offset) order
// once the pipeline's final stage completes.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"
)

// Severity classifies a diagnostic per spec.md §7's error kinds.
type Severity int

const (
	// SeverityWarning is a policy warning (text relocation, missing
	// build-id): emitted but non-fatal unless promoted.
	SeverityWarning Severity = iota
	// SeverityError is a resolution or range error: accumulated and
	// reported together, fatal at the next stage barrier.
	SeverityError
	// SeverityFatal is an input or resource error: aborts the link
	// immediately once observed.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// A Finding is one diagnostic, tagged with enough location context to sort
// deterministically regardless of which goroutine produced it.
type Finding struct {
	Severity Severity
	File     string
	Section  string
	Offset   uint64
	Message  string
}

func (f Finding) String() string {
	loc := f.File
	if f.Section != "" {
		loc = fmt.Sprintf("%s:%s+%#x", f.File, f.Section, f.Offset)
	}
	if loc == "" {
		return fmt.Sprintf("%s: %s", f.Severity, f.Message)
	}
	return fmt.Sprintf("%s: %s: %s", loc, f.Severity, f.Message)
}

// Bag is the lock-guarded diagnostic accumulator every pipeline stage
// writes into concurrently. It is safe to share across goroutines from the
// same stage barrier (spec.md §5's "within-task errors push to a lock-free
// diagnostic buffer" model, realized here with a plain mutex since the
// buffer is append-only and drained once per link, not a hot path).
type Bag struct {
	mu       sync.Mutex
	findings []Finding
	fatal    atomic.Bool
}

// NewBag returns an empty diagnostic buffer.
func NewBag() *Bag { return &Bag{} }

// Add records f. If f.Severity is SeverityFatal, the bag's fatal flag is
// set (see Fatal).
func (b *Bag) Add(f Finding) {
	b.mu.Lock()
	b.findings = append(b.findings, f)
	b.mu.Unlock()
	if f.Severity == SeverityFatal {
		b.fatal.Store(true)
	}
}

// Fatalf is a convenience wrapper for Add with SeverityFatal.
func (b *Bag) Fatalf(file, section string, offset uint64, format string, args ...any) {
	b.Add(Finding{Severity: SeverityFatal, File: file, Section: section, Offset: offset, Message: fmt.Sprintf(format, args...)})
}

// Errorf is a convenience wrapper for Add with SeverityError.
func (b *Bag) Errorf(file, section string, offset uint64, format string, args ...any) {
	b.Add(Finding{Severity: SeverityError, File: file, Section: section, Offset: offset, Message: fmt.Sprintf(format, args...)})
}

// Warnf is a convenience wrapper for Add with SeverityWarning.
func (b *Bag) Warnf(file, section string, offset uint64, format string, args ...any) {
	b.Add(Finding{Severity: SeverityWarning, File: file, Section: section, Offset: offset, Message: fmt.Sprintf(format, args...)})
}

// Fatal reports whether any fatal diagnostic has been recorded. No stage
// polls it: internal/link stops on returned errors and on HasErrors.
func (b *Bag) Fatal() bool { return b.fatal.Load() }

// HasErrors reports whether any error- or fatal-severity diagnostic was
// recorded, the condition spec.md §7 uses to decide a nonzero exit code.
func (b *Bag) HasErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.findings {
		if f.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// Drain returns every recorded finding sorted into deterministic (file,
// section, offset) order, so logs are reproducible across parallelism
// levels (spec.md §7, §8 "Reproducibility").
func (b *Bag) Drain() []Finding {
	b.mu.Lock()
	out := append([]Finding(nil), b.findings...)
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.File != c.File {
			return a.File < c.File
		}
		if a.Section != c.Section {
			return a.Section < c.Section
		}
		if a.Offset != c.Offset {
			return a.Offset < c.Offset
		}
		return a.Severity < c.Severity
	})
	return out
}

// Logger builds the linker's structured logger: a colorized
// human-readable handler on stderr, fanned out (via slog-multi) alongside
// an optional JSON handler when jsonPath is non-empty, so a CI pipeline can
// consume machine-readable diagnostics while a terminal user still gets
// colorized text.
func Logger(jsonPath string) (*slog.Logger, func() error, error) {
	handlers := []slog.Handler{&ttyHandler{}}
	closeFn := func() error { return nil }

	if jsonPath != "" {
		f, err := os.OpenFile(jsonPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("diag: opening %s: %w", jsonPath, err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, nil))
		closeFn = f.Close
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	return logger, closeFn, nil
}

// ttyHandler is a minimal slog.Handler that colorizes warning/error/fatal
// level records for an interactive terminal, using fatih/color rather than
// hand-written ANSI escapes.
type ttyHandler struct {
	attrs []slog.Attr
}

func (h *ttyHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ttyHandler) Handle(_ context.Context, r slog.Record) error {
	line := fmt.Sprintf("%s %s", r.Time.Format("15:04:05"), r.Message)
	switch {
	case r.Level >= slog.LevelError:
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, line)
	case r.Level >= slog.LevelWarn:
		color.New(color.FgYellow).Fprintln(os.Stderr, line)
	default:
		fmt.Fprintln(os.Stderr, line)
	}
	return nil
}

func (h *ttyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ttyHandler{attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *ttyHandler) WithGroup(string) slog.Handler { return h }
