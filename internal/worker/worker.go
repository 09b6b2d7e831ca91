// Package worker implements a fixed pool of single-threaded actors, each
// processing one application item at a time end to end, isolated so
// that one item's crash or failure never corrupts another's state.
// Outcomes are reported through an explicit ExecutorOutcome value
// rather than raised as exceptions, so CAPTCHA/2FA interruptions are
// ordinary control flow instead of error handling.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/eventlog"
	"github.com/autoapply/orchestrator/internal/intervention"
	"github.com/autoapply/orchestrator/internal/ratelimit"
	"github.com/autoapply/orchestrator/internal/telemetry"
)

// Result is reported back to the Dispatcher after one item finishes.
type Result struct {
	Application domain.Application
	Outcome     domain.ExecutorOutcomeKind
	Err         error
}

// Worker is one single-threaded actor processing items handed to it by
// the Dispatcher, one at a time, from start to terminal status.
type Worker struct {
	id           int
	executor     domain.Executor
	repo         domain.Repository
	events       *eventlog.Log
	governor     *ratelimit.Governor
	interventions *intervention.Bridge
	clock        domain.Clock
	logger       *zap.Logger
}

// New constructs a Worker.
func New(id int, executor domain.Executor, repo domain.Repository, events *eventlog.Log,
	governor *ratelimit.Governor, interventions *intervention.Bridge, clock domain.Clock, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id: id, executor: executor, repo: repo, events: events,
		governor: governor, interventions: interventions, clock: clock,
		logger: logger.Named(fmt.Sprintf("worker-%d", id)),
	}
}

// Run drains items from the input channel until it is closed or ctx is
// done, publishing one Result per item onto out. It never lets a panic
// inside one item's processing escape to terminate the worker, so sibling
// workers and the Dispatcher are unaffected.
func (w *Worker) Run(ctx context.Context, in <-chan domain.Application, out chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case app, ok := <-in:
			if !ok {
				return
			}
			res := w.processItem(ctx, app)
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processItem runs one application through the executor end to end,
// recovering from panics so a crashing item is reported as a failure
// rather than taking the worker down.
func (w *Worker) processItem(ctx context.Context, app domain.Application) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.WorkerCrashesTotal.Inc()
			w.logger.Error("item processing panicked; contained",
				zap.String("application_id", app.ID), zap.Any("panic", r))
			w.events.Append(ctx, app.SessionID, app.ID, domain.EventWorkerCrashed, fmt.Sprint(r), nil) //nolint:errcheck
			_ = w.transitionFailed(ctx, app, "worker_crashed", fmt.Sprint(r))
			res = Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: recovered panic: %v", r)}
		}
	}()

	now := w.clock.Now()
	if err := w.repo.SetApplicationTiming(ctx, app.ID, &now, nil); err != nil {
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: set timing: %w", err)}
	}
	app.StartedAt = &now
	if _, err := w.events.Append(ctx, app.SessionID, app.ID, domain.EventItemStarted, "", nil); err != nil {
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: append started event: %w", err)}
	}

	return w.runExecutor(ctx, app)
}

// runExecutor invokes the executor and dispatches on its outcome. It is
// the resumption point after an intervention is resolved, so a resumed
// item does not re-emit `item_started` or re-stamp `started_at`.
func (w *Worker) runExecutor(ctx context.Context, app domain.Application) Result {
	cb := w.events.Callback(ctx, app.SessionID)
	outcome, err := w.executor.RunApplication(ctx, app, app.Effort, cb)
	if err != nil {
		_ = w.transitionFailed(ctx, app, "executor_error", err.Error())
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: run application: %w", err)}
	}

	switch outcome.Kind {
	case domain.OutcomeSubmitted:
		return w.finishSubmitted(ctx, app, outcome)
	case domain.OutcomeNeedsIntervention:
		return w.handleIntervention(ctx, app, outcome)
	default:
		_ = w.transitionFailed(ctx, app, outcome.FailureReason, "")
		return Result{Application: app, Outcome: domain.OutcomeFailed}
	}
}

func (w *Worker) finishSubmitted(ctx context.Context, app domain.Application, outcome domain.ExecutorOutcome) Result {
	now := w.clock.Now()
	if err := w.repo.SetApplicationTiming(ctx, app.ID, nil, &now); err != nil {
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: set submitted timing: %w", err)}
	}
	if err := w.recordUsage(ctx, app, outcome); err != nil {
		w.logger.Warn("failed to record usage", zap.Error(err))
	}
	if err := w.repo.UpdateApplicationStatus(ctx, app.ID, domain.AppSubmitted, "", "", now); err != nil {
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: update status submitted: %w", err)}
	}
	if _, err := w.events.Append(ctx, app.SessionID, app.ID, domain.EventItemSubmitted, "", outcome.Payload); err != nil {
		w.logger.Warn("failed to append submitted event", zap.Error(err))
	}
	app.Status = domain.AppSubmitted
	return Result{Application: app, Outcome: domain.OutcomeSubmitted}
}

func (w *Worker) handleIntervention(ctx context.Context, app domain.Application, outcome domain.ExecutorOutcome) Result {
	kindEvent := domain.EventCaptchaFailed
	if outcome.InterventionKind == domain.InterventionTwoFactor {
		kindEvent = domain.EventTwoFactorRequested
	}
	if _, err := w.events.Append(ctx, app.SessionID, app.ID, kindEvent, "", outcome.Payload); err != nil {
		w.logger.Warn("failed to append intervention event", zap.Error(err))
	}
	if err := w.repo.UpdateApplicationStatus(ctx, app.ID, domain.AppPaused, "awaiting_intervention", "", w.clock.Now()); err != nil {
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: pause for intervention: %w", err)}
	}
	if _, err := w.events.Append(ctx, app.SessionID, app.ID, domain.EventInterventionRequested, string(outcome.InterventionKind), nil); err != nil {
		w.logger.Warn("failed to append intervention requested event", zap.Error(err))
	}

	resolution, err := w.interventions.Request(ctx, app.ID, outcome.InterventionKind, outcome.Payload)
	if err != nil {
		if err == domain.ErrInterventionTimeout {
			telemetry.InterventionRequestsTotal.WithLabelValues(string(outcome.InterventionKind), "timeout").Inc()
			if _, appendErr := w.events.Append(ctx, app.SessionID, app.ID, domain.EventInterventionTimeout, "", nil); appendErr != nil {
				w.logger.Warn("failed to append intervention timeout event", zap.Error(appendErr))
			}
			if err := w.transitionFailed(ctx, app, "intervention_timeout", ""); err != nil {
				w.logger.Error("failed to transition timed-out intervention to failed", zap.Error(err))
			}
			return Result{Application: app, Outcome: domain.OutcomeFailed, Err: domain.ErrInterventionTimeout}
		}
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: fmt.Errorf("worker: await intervention: %w", err)}
	}

	telemetry.InterventionRequestsTotal.WithLabelValues(string(outcome.InterventionKind), "resolved").Inc()
	if _, err := w.events.Append(ctx, app.SessionID, app.ID, domain.EventInterventionResolved, "", resolution); err != nil {
		w.logger.Warn("failed to append intervention resolved event", zap.Error(err))
	}
	if err := w.transitionFromPaused(ctx, app, domain.AppInProgress, "", ""); err != nil {
		return Result{Application: app, Outcome: domain.OutcomeFailed, Err: err}
	}
	app.Status = domain.AppInProgress
	return w.runExecutor(ctx, app)
}

func (w *Worker) transitionFailed(ctx context.Context, app domain.Application, reason, detail string) error {
	now := w.clock.Now()
	if err := w.repo.UpdateApplicationStatus(ctx, app.ID, domain.AppFailed, reason, detail, now); err != nil {
		return fmt.Errorf("worker: transition failed: %w", err)
	}
	if _, err := w.events.Append(ctx, app.SessionID, app.ID, domain.EventItemFailed, reason, nil); err != nil {
		w.logger.Warn("failed to append failed event", zap.Error(err))
	}
	return nil
}

func (w *Worker) transitionFromPaused(ctx context.Context, app domain.Application, to domain.ApplicationStatus, reason, detail string) error {
	if err := w.repo.UpdateApplicationStatus(ctx, app.ID, to, reason, detail, w.clock.Now()); err != nil {
		return fmt.Errorf("worker: transition from paused to %s: %w", to, err)
	}
	return nil
}

func (w *Worker) recordUsage(ctx context.Context, app domain.Application, outcome domain.ExecutorOutcome) error {
	if outcome.TokensIn == 0 && outcome.TokensOut == 0 && outcome.Cost == 0 {
		return nil
	}
	if err := w.repo.IncrementApplicationCounters(ctx, app.ID, outcome.TokensIn, outcome.TokensOut, outcome.Cost); err != nil {
		return fmt.Errorf("increment application counters: %w", err)
	}
	return nil
}

// Pool owns a fixed set of Workers and the channel wiring between them
// and the Dispatcher.
type Pool struct {
	workers []*Worker
	in      chan domain.Application
	out     chan Result
}

// NewPool constructs a Pool of n Workers sharing one input channel and
// one results channel.
func NewPool(workers []*Worker, queueDepth int) *Pool {
	return &Pool{
		workers: workers,
		in:      make(chan domain.Application, queueDepth),
		out:     make(chan Result, queueDepth),
	}
}

// Run starts every worker and blocks until all of them have returned
// (ctx cancelled, or the input closed and drained), then closes the
// results channel.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx, p.in, p.out)
		}(w)
	}
	// Workers exit either when ctx is cancelled or when CloseInput drains
	// the input channel; either way, once all have returned the pool is done.
	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()
	<-allDone
	close(p.out)
}

// Submit hands one item to the pool, blocking until it is queued on the
// buffered input channel or ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, app domain.Application) error {
	select {
	case p.in <- app:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results exposes the pool's results channel for the Dispatcher to drain.
func (p *Pool) Results() <-chan Result { return p.out }

// CloseInput stops accepting new items; workers drain in-flight work and exit.
func (p *Pool) CloseInput() { close(p.in) }
