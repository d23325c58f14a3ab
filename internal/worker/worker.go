// Package worker provides the two process shapes every talos role runs
// as: a periodic producer loop (scheduler) and a queue-consumer loop
// (community scanner, post rescanner), per spec.md §4.1.6/§5.
package worker

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/louisb0/talos/internal/domain"
	"github.com/louisb0/talos/internal/platform/retry"
)

// Pass is one unit of producer work: a single scheduling pass, retried as
// a whole on failure.
type Pass func(ctx context.Context) error

// ProducerLoop runs Pass repeatedly on a fixed interval until ctx is
// cancelled, sleeping startupSleep before the first pass so dependent
// services (broker, DB) have time to come up.
type ProducerLoop struct {
	Component    string
	StartupSleep time.Duration
	Interval     time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Pass          Pass
}

// Run blocks until ctx is cancelled.
func (l ProducerLoop) Run(ctx context.Context) {
	if l.StartupSleep > 0 {
		slog.Info("producer sleeping before first pass", slog.String("component", l.Component), slog.Duration("sleep", l.StartupSleep))
		select {
		case <-time.After(l.StartupSleep):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		if err := retry.Fixed(ctx, l.Component, l.RetryAttempts, l.RetryDelay, domain.IsRetryable, l.Pass); err != nil {
			l.handleCriticalError(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleCriticalError logs a pass that failed with a non-retryable error or
// exhausted every retry attempt and terminates the process, matching ConsumerLoop.Run: the orchestrator is
// responsible for restarting (spec.md §4.1.6/§6/§7).
func (l ProducerLoop) handleCriticalError(err error) {
	slog.Error("producer pass failed after all retries", slog.String("component", l.Component), slog.Any("error", err))
	os.Exit(1)
}

// ConsumerLoop runs a blocking Consume call and exits the process if it
// returns an error: the broker delivery channel was lost, or a handler
// still failed after the retries its caller wrapped it in.
type ConsumerLoop struct {
	Component string
	Consume   func(ctx context.Context) error
}

// Run blocks until ctx is cancelled or Consume returns an error.
func (l ConsumerLoop) Run(ctx context.Context) {
	if err := l.Consume(ctx); err != nil {
		slog.Error("consumer loop exited with error", slog.String("component", l.Component), slog.Any("error", err))
		os.Exit(1)
	}
}
