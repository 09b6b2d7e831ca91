// Package sessionctl implements session lifecycle transitions, the
// recovery scan performed at startup, and terminal digest computation.
package sessionctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/dispatcher"
	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/eventlog"
	"github.com/autoapply/orchestrator/internal/policy/effort"
	"github.com/autoapply/orchestrator/internal/ratelimit"
	"github.com/autoapply/orchestrator/internal/telemetry"
	"github.com/autoapply/orchestrator/internal/worker"
)

// WorkerFactory builds the fixed Worker set for one session run.
type WorkerFactory func(session domain.Session) []*worker.Worker

// Controller owns session lifecycle transitions and the active dispatch
// loop for each running session.
type Controller struct {
	repo      domain.Repository
	events    *eventlog.Log
	governor  *ratelimit.Governor
	workers   WorkerFactory
	policy    effort.Policy
	clock     domain.Clock
	ids       domain.IDGenerator
	logger    *zap.Logger
	notifier  domain.Notifier
	archiver  domain.Archiver

	mu      sync.Mutex
	running map[string]*runtime
}

type runtime struct {
	cancel context.CancelFunc
	done   chan struct{}
	paused bool
}

// New constructs a Controller. policy is the compiled Policy Evaluator
// applied to every item the Dispatcher considers for admission.
func New(repo domain.Repository, events *eventlog.Log, governor *ratelimit.Governor, workers WorkerFactory, policy effort.Policy,
	clock domain.Clock, ids domain.IDGenerator, notifier domain.Notifier, archiver domain.Archiver, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		repo: repo, events: events, governor: governor, workers: workers, policy: policy,
		clock: clock, ids: ids, notifier: notifier, archiver: archiver,
		logger: logger.Named("sessionctl"), running: make(map[string]*runtime),
	}
}

// CreateSession persists a new session in the planned state.
func (c *Controller) CreateSession(ctx context.Context, userID, timezone string, limits domain.Limits, effortRef, stealthRef string) (domain.Session, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return domain.Session{}, fmt.Errorf("sessionctl: generate session id: %w", err)
	}
	s := domain.Session{
		ID: id, UserID: userID, Timezone: timezone, Limits: limits,
		Status: domain.SessionPlanned, CreatedAt: c.clock.Now(), EffortRef: effortRef, StealthRef: stealthRef,
	}
	if err := c.repo.CreateSession(ctx, s); err != nil {
		return domain.Session{}, fmt.Errorf("sessionctl: create session: %w", err)
	}
	return s, nil
}

// Start transitions a planned or paused session to running and launches
// its dispatch loop in the background.
func (c *Controller) Start(ctx context.Context, sessionID string) error {
	s, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("sessionctl: start: %w", err)
	}
	if s.Status != domain.SessionPlanned && s.Status != domain.SessionPaused {
		return fmt.Errorf("sessionctl: start session %s from %s: %w", sessionID, s.Status, domain.ErrSessionNotRunning)
	}

	policies, err := c.repo.LoadAllDomainPolicies(ctx)
	if err != nil {
		return fmt.Errorf("sessionctl: load domain policies: %w", err)
	}
	c.governor.LoadPolicies(policies)

	if err := c.repo.UpdateSessionStatus(ctx, sessionID, domain.SessionRunning, c.clock.Now()); err != nil {
		return fmt.Errorf("sessionctl: mark running: %w", err)
	}
	if _, err := c.events.Append(ctx, sessionID, "", domain.EventSessionResumed, "", nil); err != nil {
		c.logger.Warn("failed to append session_resumed event", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &runtime{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.running[sessionID] = rt
	c.mu.Unlock()

	workers := c.workers(s)
	pool := worker.NewPool(workers, 64)
	disp := dispatcher.New(c.repo, c.events, c.governor, pool, c.policy, c.clock, c.logger, 250*time.Millisecond, 25)

	telemetry.SessionsActive.Inc()
	go func() {
		defer close(rt.done)
		defer telemetry.SessionsActive.Dec()
		go pool.Run(runCtx)
		outcome := disp.Run(runCtx, sessionID, func() (bool, string) {
			return c.limitsCheck(ctx, sessionID)
		}, func() bool {
			c.mu.Lock()
			paused := rt.paused
			c.mu.Unlock()
			return paused
		})
		c.mu.Lock()
		if rt.paused && runCtx.Err() == nil {
			outcome.Reason = "paused"
		}
		c.mu.Unlock()
		c.finishRun(ctx, sessionID, outcome)
	}()

	return nil
}

func (c *Controller) limitsCheck(ctx context.Context, sessionID string) (bool, string) {
	s, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return true, "session_lookup_failed"
	}
	return s.LimitsReached(c.clock.Now(), 0)
}

func (c *Controller) finishRun(ctx context.Context, sessionID string, outcome dispatcher.Outcome) {
	c.mu.Lock()
	delete(c.running, sessionID)
	c.mu.Unlock()

	now := c.clock.Now()
	switch outcome.Reason {
	case "cancelled":
		if err := c.repo.MarkSessionTerminal(ctx, sessionID, domain.SessionCancelled, now); err != nil {
			c.logger.Error("failed to mark session cancelled", zap.Error(err))
		}
		if _, err := c.events.Append(ctx, sessionID, "", domain.EventSessionCancelled, "", nil); err != nil {
			c.logger.Warn("failed to append session_cancelled event", zap.Error(err))
		}
	case "exhausted", "max_items", "max_duration", "budget_cost":
		if err := c.repo.MarkSessionTerminal(ctx, sessionID, domain.SessionCompleted, now); err != nil {
			c.logger.Error("failed to mark session completed", zap.Error(err))
		}
		if _, err := c.events.Append(ctx, sessionID, "", domain.EventSessionCompleted, outcome.Reason, nil); err != nil {
			c.logger.Warn("failed to append session_completed event", zap.Error(err))
		}
		if digest, err := c.ComputeDigest(ctx, sessionID); err != nil {
			c.logger.Error("failed to compute digest", zap.Error(err))
		} else if c.archiver != nil {
			c.archiveDigest(ctx, sessionID, digest)
		}
	default:
		if err := c.repo.UpdateSessionStatus(ctx, sessionID, domain.SessionPaused, now); err != nil {
			c.logger.Error("failed to mark session paused", zap.Error(err))
		}
		if _, err := c.events.Append(ctx, sessionID, "", domain.EventSessionPaused, outcome.Reason, nil); err != nil {
			c.logger.Warn("failed to append session_paused event", zap.Error(err))
		}
	}
	if c.notifier != nil {
		if err := c.notifier.Notify(ctx, outcome.Reason, map[string]any{"session_id": sessionID}); err != nil {
			c.logger.Warn("notify failed", zap.Error(err))
		}
	}
}

func (c *Controller) archiveDigest(ctx context.Context, sessionID string, digest domain.Digest) {
	data := []byte(fmt.Sprintf("session=%s attempted=%d succeeded=%d failed=%d",
		sessionID, digest.Counters.Attempted, digest.Counters.Succeeded, digest.Counters.Failed))
	if _, err := c.archiver.Archive(ctx, fmt.Sprintf("digests/%s.txt", sessionID), data); err != nil {
		c.logger.Warn("failed to archive digest", zap.Error(err))
	}
}

// Pause stops a running session from admitting new items; items already
// handed to workers are not interrupted, and the session is marked paused
// once its dispatch loop has stopped.
func (c *Controller) Pause(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	rt, ok := c.running[sessionID]
	if ok {
		rt.paused = true
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("sessionctl: pause %s: %w", sessionID, domain.ErrSessionNotRunning)
	}
	return nil
}

// Resume restarts dispatch for a paused session.
func (c *Controller) Resume(ctx context.Context, sessionID string) error {
	return c.Start(ctx, sessionID)
}

// Cancel stops a running session's dispatch loop immediately; in-flight
// items still complete or fail normally, but no new items are admitted.
func (c *Controller) Cancel(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	rt, ok := c.running[sessionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("sessionctl: cancel %s: %w", sessionID, domain.ErrSessionNotRunning)
	}
	rt.cancel()
	return nil
}

// Stop is an alias for Cancel exposed to the Control API as a distinct
// verb: operationally identical, but intended for planned shutdowns
// rather than aborting the user's intent.
func (c *Controller) Stop(ctx context.Context, sessionID string) error {
	return c.Cancel(ctx, sessionID)
}

// RecoverNonTerminalSessions is run once at process startup. Any session
// left running or paused by a prior process crash is moved to failing
// and then failed, since its in-memory dispatch state cannot be trusted.
func (c *Controller) RecoverNonTerminalSessions(ctx context.Context) error {
	sessions, err := c.repo.ListNonTerminalSessions(ctx)
	if err != nil {
		return fmt.Errorf("sessionctl: recovery scan: %w", err)
	}
	now := c.clock.Now()
	for _, s := range sessions {
		if s.Status == domain.SessionPlanned {
			continue
		}
		if err := c.repo.UpdateSessionStatus(ctx, s.ID, domain.SessionFailing, now); err != nil {
			c.logger.Error("recovery: failed to mark failing", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		if err := c.repo.MarkSessionTerminal(ctx, s.ID, domain.SessionFailed, now); err != nil {
			c.logger.Error("recovery: failed to mark failed", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		c.logger.Warn("recovered orphaned session as failed", zap.String("session_id", s.ID))
	}
	return nil
}

// ComputeDigest builds the terminal summary for a session from its
// stored counters and event history: a failure taxonomy keyed by the
// item_failed detail, and the first three application ids seen per event
// type. Applications are not read, so PerDomain and PerEffort are left
// empty.
func (c *Controller) ComputeDigest(ctx context.Context, sessionID string) (domain.Digest, error) {
	s, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("sessionctl: compute digest: %w", err)
	}
	events, err := c.events.Replay(ctx, sessionID)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("sessionctl: compute digest: %w", err)
	}

	digest := domain.Digest{
		SessionID:       sessionID,
		Counters:        s.Counters,
		PerDomain:       make(map[string]domain.Counters),
		PerEffort:       make(map[domain.Effort]int),
		FailureTaxonomy: make(map[string]int),
		ExampleByKind:   make(map[string][]string),
		GeneratedAt:     c.clock.Now(),
	}
	for _, e := range events {
		kind := string(e.Type)
		if len(digest.ExampleByKind[kind]) < 3 {
			digest.ExampleByKind[kind] = append(digest.ExampleByKind[kind], e.ApplicationID)
		}
		if e.Type == domain.EventItemFailed {
			digest.FailureTaxonomy[e.Detail]++
		}
	}
	if err := c.repo.UpsertDigest(ctx, digest); err != nil {
		return domain.Digest{}, fmt.Errorf("sessionctl: upsert digest: %w", err)
	}
	return digest, nil
}
