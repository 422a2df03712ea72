// Package jobs runs the bot's recurring work (reconciliation, token refresh)
// on cron schedules. A job never overlaps with its own previous run.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultReconcileCron is used when the document has no cron expression.
const DefaultReconcileCron = "* * * * *"

// Parser accepts 5-field specs, an optional leading seconds field and
// descriptors such as "@every 1m".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr parses.
func Validate(expr string) error {
	if _, err := Parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return nil
}

// Scheduler wraps a cron runner. Jobs receive a context that is cancelled by
// Stop.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	ids map[string]cron.EntryID
}

// New builds a stopped scheduler.
func New() *Scheduler {
	logger := slogLogger{log: slog.Default().With(slog.String("component", "scheduler"))}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
		ids:    map[string]cron.EntryID{},
	}
}

// Add registers fn under name. Re-adding a name replaces the previous entry.
func (s *Scheduler) Add(name, expr string, fn func(ctx context.Context)) error {
	id, err := s.cron.AddFunc(expr, func() {
		slog.Debug("job started", slog.String("component", "scheduler"), slog.String("job", name))
		fn(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.ids[name]; ok {
		s.cron.Remove(old)
	}
	s.ids[name] = id
	slog.Info("job scheduled",
		slog.String("component", "scheduler"),
		slog.String("job", name),
		slog.String("cron", expr))
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for n := range s.ids {
		out = append(out, n)
	}
	return out
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling, cancels the job context and waits for running jobs
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct{ log *slog.Logger }

func (l slogLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l slogLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
