// Package dispatcher selects queued items in priority order, admits
// them through the Rate Governor, hands them to the Worker Pool,
// applies session limits, and reacts to cancellation and worker
// failure.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/eventlog"
	"github.com/autoapply/orchestrator/internal/policy/effort"
	"github.com/autoapply/orchestrator/internal/ratelimit"
	"github.com/autoapply/orchestrator/internal/telemetry"
	"github.com/autoapply/orchestrator/internal/worker"
)

// Dispatcher drives one session's worker pool from its queued items.
type Dispatcher struct {
	repo      domain.Repository
	events    *eventlog.Log
	governor  *ratelimit.Governor
	pool      *worker.Pool
	policy    effort.Policy
	clock     domain.Clock
	logger    *zap.Logger
	pollEvery time.Duration
	batchSize int
}

// New constructs a Dispatcher for one session's run. policy is the
// compiled Policy Evaluator consulted for every item before rate
// admission.
func New(repo domain.Repository, events *eventlog.Log, governor *ratelimit.Governor, pool *worker.Pool, policy effort.Policy,
	clock domain.Clock, logger *zap.Logger, pollEvery time.Duration, batchSize int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Dispatcher{
		repo: repo, events: events, governor: governor, pool: pool, policy: policy,
		clock: clock, logger: logger.Named("dispatcher"), pollEvery: pollEvery, batchSize: batchSize,
	}
}

// Outcome summarizes why Run stopped.
type Outcome struct {
	Reason string // "exhausted", "cancelled", or the reason returned by limitsCheck
}

// Run drives dispatch for one session until its queue is exhausted, a
// session limit trips, or ctx is cancelled. limitsCheck and isCancelled
// let the Session Controller own the session's authoritative state while
// the Dispatcher only consults it.
func (d *Dispatcher) Run(ctx context.Context, sessionID string, limitsCheck func() (bool, string), isCancelled func() bool) Outcome {
	go d.collectResults(ctx, sessionID)

	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	deferred := make(map[string]time.Time) // applicationID -> earliest retry

	for {
		select {
		case <-ctx.Done():
			d.pool.CloseInput()
			return Outcome{Reason: "cancelled"}
		case <-ticker.C:
			if isCancelled() {
				d.pool.CloseInput()
				return Outcome{Reason: "cancelled"}
			}
			if reached, reason := limitsCheck(); reached {
				d.pool.CloseInput()
				return Outcome{Reason: reason}
			}

			items, err := d.repo.ListQueued(ctx, sessionID, d.batchSize)
			if err != nil {
				d.logger.Error("list queued failed", zap.Error(err))
				continue
			}
			if len(items) == 0 {
				inProgress, err := d.repo.ListInProgress(ctx, sessionID)
				if err == nil && len(inProgress) == 0 && len(deferred) == 0 {
					d.pool.CloseInput()
					return Outcome{Reason: "exhausted"}
				}
				continue
			}

			now := d.clock.Now()
			for _, app := range items {
				if until, deferredUntil := deferred[app.ID]; deferredUntil && now.Before(until) {
					continue
				}
				d.admitOne(ctx, app, deferred)
			}
		}
	}
}

func (d *Dispatcher) admitOne(ctx context.Context, app domain.Application, deferred map[string]time.Time) {
	decision := d.policy.Evaluate(effort.Input{
		HintEffort:  app.Effort,
		MatchScore:  app.MatchScore,
		CompanyTier: "",
		DomainAvoid: d.governor.Avoid(app.Domain),
	})
	if decision.SkipReason != "" {
		d.rejectItem(ctx, app, decision.SkipReason)
		delete(deferred, app.ID)
		return
	}
	app.Effort = decision.Effort

	result := d.governor.TryAcquire(app.Domain)
	telemetry.RateLimitDecisionsTotal.WithLabelValues(app.Domain, string(result.Decision)).Inc()
	switch result.Decision {
	case ratelimit.Reject:
		d.rejectItem(ctx, app, result.Reason)
		delete(deferred, app.ID)
		return
	case ratelimit.Defer:
		deferred[app.ID] = result.EarliestAt
		return
	}
	delete(deferred, app.ID)

	if err := d.repo.UpdateApplicationStatus(ctx, app.ID, domain.AppInProgress, "", "", d.clock.Now()); err != nil {
		d.logger.Error("failed to mark application in_progress", zap.String("application_id", app.ID), zap.Error(err))
		d.governor.Release(app.Domain, ratelimit.OutcomeOK)
		return
	}
	app.Status = domain.AppInProgress

	if err := d.pool.Submit(ctx, app); err != nil {
		d.logger.Warn("submit cancelled", zap.String("application_id", app.ID), zap.Error(err))
		d.governor.Release(app.Domain, ratelimit.OutcomeOK)
	}
}

func (d *Dispatcher) rejectItem(ctx context.Context, app domain.Application, reason string) {
	if err := d.repo.UpdateApplicationStatus(ctx, app.ID, domain.AppSkipped, reason, "", d.clock.Now()); err != nil {
		d.logger.Error("failed to mark application skipped", zap.String("application_id", app.ID), zap.Error(err))
		return
	}
	if _, err := d.events.Append(ctx, app.SessionID, app.ID, domain.EventItemSkipped, reason, nil); err != nil {
		d.logger.Warn("failed to append item_skipped event", zap.Error(err))
	}
	if err := d.repo.UpdateSessionCounters(ctx, app.SessionID, domain.Counters{Attempted: 1, Skipped: 1}); err != nil {
		d.logger.Error("failed to update session counters for skip", zap.String("application_id", app.ID), zap.Error(err))
	}
}

// collectResults drains the pool's results channel for the session's
// lifetime, releasing the Rate Governor slot each item held and
// recording per-session counters.
func (d *Dispatcher) collectResults(ctx context.Context, sessionID string) {
	for res := range d.pool.Results() {
		outcome := ratelimit.OutcomeOK
		if res.Err != nil && res.Outcome == domain.OutcomeFailed {
			outcome = ratelimit.OutcomeBlocked
		}
		d.governor.Release(res.Application.Domain, outcome)
		telemetry.ItemsProcessedTotal.WithLabelValues(string(res.Outcome)).Inc()

		delta := domain.Counters{Attempted: 1}
		switch res.Outcome {
		case domain.OutcomeSubmitted:
			delta.Succeeded = 1
		case domain.OutcomeFailed:
			delta.Failed = 1
		}
		if err := d.repo.UpdateSessionCounters(ctx, sessionID, delta); err != nil {
			d.logger.Error("failed to update session counters", zap.Error(err))
		}
		if res.Err != nil {
			d.logger.Warn("item finished with error",
				zap.String("application_id", res.Application.ID), zap.Error(res.Err))
		}
	}
}

