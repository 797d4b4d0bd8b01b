// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Log appends one commit per template mutation. Concurrent writers across
// hosts may briefly fork the history; whichever writer loses the race folds
// the fork in on its next record.
type Log struct {
	git       GitRunner
	host      string
	annotator *Annotator
	logger    *slog.Logger
}

// Open prepares the version log under root, creating the repository on
// first use. annotator may be nil.
func Open(ctx context.Context, root, host string, annotator *Annotator, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	git, err := NewGitExecutor(ctx, root)
	if err != nil {
		return nil, err
	}
	return &Log{git: git, host: host, annotator: annotator, logger: logger}, nil
}

// NewLog wraps an existing runner; tests inject fakes here.
func NewLog(git GitRunner, host string, annotator *Annotator, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{git: git, host: host, annotator: annotator, logger: logger}
}

// Record appends one entry for a set of mutated paths. Failures are logged
// and swallowed: the log is best-effort and must never abort reconciliation.
func (l *Log) Record(ctx context.Context, paths []string) {
	if err := l.commit(ctx, l.summary(ctx, paths), true); err != nil {
		l.logger.Warn("history.record.failed", "paths", paths, "err", err)
	}
}

// Commit stages and commits explicitly, for the commit command. message may
// be empty, in which case the annotator (or fallback) summarizes the staged
// diff.
func (l *Log) Commit(ctx context.Context, message string, all bool) error {
	if all {
		if _, err := l.git.Run(ctx, "add", "-A"); err != nil {
			return err
		}
	}
	if message == "" {
		staged, _ := l.git.Run(ctx, "diff", "--cached", "--stat")
		if strings.TrimSpace(staged) == "" {
			return fmt.Errorf("nothing staged to commit")
		}
		message = l.summarizeDiff(ctx, staged)
	}
	_, err := l.git.Run(ctx, "commit", "--quiet", "-m", message,
		"--author", fmt.Sprintf("%s <%s@laszoo>", l.host, l.host))
	return err
}

func (l *Log) commit(ctx context.Context, message string, addAll bool) error {
	if addAll {
		if _, err := l.git.Run(ctx, "add", "-A"); err != nil {
			return err
		}
	}
	status, err := l.git.Run(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	_, err = l.git.Run(ctx, "commit", "--quiet", "-m", message,
		"--author", fmt.Sprintf("%s <%s@laszoo>", l.host, l.host))
	return err
}

// summary produces the commit message for a set of paths: the annotator's
// one-liner when available, the deterministic fallback otherwise.
func (l *Log) summary(ctx context.Context, paths []string) string {
	if l.annotator != nil {
		diff, err := l.git.Run(ctx, "diff", "HEAD", "--stat")
		if err == nil {
			if s, err := l.annotator.Summarize(ctx, diff); err == nil {
				return s
			}
			// Annotator failures are silent by contract.
		}
	}
	return FallbackSummary(paths)
}

func (l *Log) summarizeDiff(ctx context.Context, diff string) string {
	if l.annotator != nil {
		if s, err := l.annotator.Summarize(ctx, diff); err == nil {
			return s
		}
	}
	return "update configuration"
}

// FallbackSummary is the deterministic summary used when no annotator is
// configured or the annotator fails.
func FallbackSummary(paths []string) string {
	sorted := append([]string{}, paths...)
	sort.Strings(sorted)
	return fmt.Sprintf("update %d files: %s", len(sorted), strings.Join(sorted, ", "))
}
