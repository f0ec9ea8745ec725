// Package scheduler periodically evaluates the alert conditions of enabled
// streams. Each condition has at most one check in flight; a triggered result
// is forwarded to the notifier unless the condition is in its grace period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamrouter/internal/alert"
)

const (
	// DefaultInterval is the default time between two evaluation rounds.
	DefaultInterval = time.Minute
	// DefaultCheckTimeout bounds a single condition check.
	DefaultCheckTimeout = 30 * time.Second
)

// ConditionLoader loads the condition definitions of enabled streams.
type ConditionLoader interface {
	LoadConditions(ctx context.Context) ([]alert.Definition, error)
}

// Notifier receives triggered check results.
type Notifier interface {
	Notify(ctx context.Context, result *alert.CheckResult) error
}

// Config controls the evaluation cadence.
type Config struct {
	Interval     time.Duration
	CheckTimeout time.Duration
}

// Validate checks the cadence settings.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("check timeout must be > 0")
	}
	return nil
}

// Metrics is the subset of *metrics.Collector the scheduler records into.
type Metrics interface {
	RecordProcessed(duration time.Duration)
	RecordPublished()
	RecordError()
	IncrementCustom(name string)
}

type noOpMetrics struct{}

func (noOpMetrics) RecordProcessed(time.Duration) {}
func (noOpMetrics) RecordPublished()              {}
func (noOpMetrics) RecordError()                  {}
func (noOpMetrics) IncrementCustom(string)        {}

// Scheduler runs condition checks on a fixed cadence.
type Scheduler struct {
	loader   ConditionLoader
	deps     alert.Deps
	grace    GraceStore
	notifier Notifier
	cfg      Config
	metrics  Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler. metrics may be nil.
func New(loader ConditionLoader, deps alert.Deps, grace GraceStore, notifier Notifier, cfg Config, metrics Metrics) *Scheduler {
	if metrics == nil {
		metrics = noOpMetrics{}
	}
	return &Scheduler{
		loader:   loader,
		deps:     deps,
		grace:    grace,
		notifier: notifier,
		cfg:      cfg,
		metrics:  metrics,
		inFlight: make(map[string]struct{}),
	}
}

// Run evaluates all conditions immediately and then on every interval until
// ctx is cancelled. It waits for running checks before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	slog.Info("Starting alert condition scheduler",
		"interval", s.cfg.Interval,
		"check_timeout", s.cfg.CheckTimeout,
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			slog.Error("Failed to start evaluation round", "error", err)
		}
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Alert condition scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce loads the current conditions and starts a check for each one
// that is not already running. It does not wait for the checks.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	defs, err := s.loader.LoadConditions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert conditions: %w", err)
	}

	started := 0
	for _, def := range defs {
		cond, err := alert.New(def, s.deps)
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, alert.ErrUnknownType) {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "Skipping unusable alert condition",
				"condition_id", def.ID,
				"stream_id", def.StreamID,
				"type", def.Type,
				"error", err,
			)
			s.metrics.IncrementCustom("conditions_invalid")
			continue
		}
		if !s.acquire(cond.ID()) {
			slog.Debug("Previous check still running, skipping",
				"condition_id", cond.ID(),
			)
			s.metrics.IncrementCustom("checks_overlapping")
			continue
		}
		started++
		s.wg.Add(1)
		go func(cond alert.Condition) {
			defer s.wg.Done()
			defer s.release(cond.ID())
			s.check(ctx, cond)
		}(cond)
	}

	slog.Debug("Evaluation round started",
		"conditions_count", len(defs),
		"checks_started", started,
	)
	return nil
}

// Wait blocks until all started checks have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) acquire(conditionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[conditionID]; busy {
		return false
	}
	s.inFlight[conditionID] = struct{}{}
	return true
}

func (s *Scheduler) release(conditionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, conditionID)
}

// check runs one condition and forwards a triggered result.
func (s *Scheduler) check(ctx context.Context, cond alert.Condition) {
	inGrace, err := s.grace.InGrace(ctx, cond.ID())
	if err != nil {
		slog.Warn("Failed to read grace period, checking anyway",
			"condition_id", cond.ID(),
			"error", err,
		)
	}
	if inGrace {
		slog.Debug("Alert condition in grace period, not checking",
			"condition_id", cond.ID(),
			"stream_id", cond.StreamID(),
		)
		s.metrics.IncrementCustom("checks_suppressed")
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	result, err := cond.Check(checkCtx)
	s.metrics.RecordProcessed(time.Since(start))
	if err != nil {
		slog.Error("Alert condition check failed, skipping cycle",
			"condition_id", cond.ID(),
			"stream_id", cond.StreamID(),
			"error", err,
		)
		s.metrics.RecordError()
		s.metrics.IncrementCustom("checks_skipped")
		return
	}
	if result == nil {
		s.metrics.IncrementCustom("checks_skipped")
		return
	}
	if !result.Triggered {
		slog.Debug("Alert condition not triggered",
			"condition_id", cond.ID(),
			"stream_id", cond.StreamID(),
		)
		s.metrics.IncrementCustom("checks_not_triggered")
		return
	}

	s.forward(ctx, cond, result)
}

// forward claims the grace period and notifies. A failed notification
// releases the period so the next round can try again.
func (s *Scheduler) forward(ctx context.Context, cond alert.Condition, result *alert.CheckResult) {
	if grace := cond.Grace(); grace > 0 {
		acquired, err := s.grace.Acquire(ctx, cond.ID(), grace)
		if err != nil {
			slog.Warn("Failed to start grace period, notifying anyway",
				"condition_id", cond.ID(),
				"error", err,
			)
		} else if !acquired {
			s.metrics.IncrementCustom("checks_suppressed")
			return
		}
	}

	if err := s.notifier.Notify(ctx, result); err != nil {
		slog.Error("Failed to forward triggered alert",
			"condition_id", cond.ID(),
			"stream_id", cond.StreamID(),
			"error", err,
		)
		s.metrics.RecordError()
		if cond.Grace() > 0 {
			if err := s.grace.Release(ctx, cond.ID()); err != nil {
				slog.Warn("Failed to release grace period", "condition_id", cond.ID(), "error", err)
			}
		}
		return
	}

	s.metrics.RecordPublished()
	s.metrics.IncrementCustom("checks_triggered")
	slog.Info("Alert condition triggered",
		"condition_id", cond.ID(),
		"stream_id", cond.StreamID(),
		"result_id", result.ID,
		"description", result.ResultDescription,
		"matching_messages", len(result.MatchingMessages),
	)
}
