// Package intervention implements the Intervention Bridge: a
// process-scoped, idempotent rendezvous between a Worker suspended on a
// CAPTCHA/2FA/suspicious-activity signal and the human operator
// resolving it through the Control API.
package intervention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
)

// pending tracks one outstanding request awaiting resolution.
type pending struct {
	kind     domain.InterventionKind
	resultCh chan map[string]any
	resolved bool
}

// Bridge brokers intervention requests between Workers and operators.
type Bridge struct {
	mu       sync.Mutex
	waiting  map[string]*pending // keyed by application ID
	timeout  time.Duration
	clock    domain.Clock
	notifier domain.Notifier
	logger   *zap.Logger
}

// New constructs a Bridge. timeout bounds how long Request will wait
// before returning domain.ErrInterventionTimeout. notifier receives a
// one-shot `captcha_manual`/`two_factor_needed` notification for every
// request raised; it may be nil to disable forwarding.
func New(timeout time.Duration, clock domain.Clock, notifier domain.Notifier, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		waiting:  make(map[string]*pending),
		timeout:  timeout,
		clock:    clock,
		notifier: notifier,
		logger:   logger.Named("intervention"),
	}
}

// notifyKind maps an intervention kind to the notification sink's
// vocabulary; suspicious-activity prompts share the manual-review kind
// since no dedicated sink kind is defined for them.
func notifyKind(kind domain.InterventionKind) string {
	switch kind {
	case domain.InterventionTwoFactor:
		return "two_factor_needed"
	default:
		return "captcha_manual"
	}
}

// Request registers an outstanding intervention for applicationID,
// forwards payload to the configured notification sink exactly once,
// and blocks until Resolve is called, the timeout elapses, or ctx is
// cancelled. Timeout is reported as domain.ErrInterventionTimeout; the
// worker marks such an item failed with reason intervention_timeout.
func (b *Bridge) Request(ctx context.Context, applicationID string, kind domain.InterventionKind, payload map[string]any) (map[string]any, error) {
	b.mu.Lock()
	if _, exists := b.waiting[applicationID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("intervention: request for %s: %w", applicationID, domain.ErrAlreadyExists)
	}
	p := &pending{kind: kind, resultCh: make(chan map[string]any, 1)}
	b.waiting[applicationID] = p
	b.mu.Unlock()

	if b.notifier != nil {
		notifyPayload := map[string]any{"application_id": applicationID}
		for k, v := range payload {
			notifyPayload[k] = v
		}
		if err := b.notifier.Notify(ctx, notifyKind(kind), notifyPayload); err != nil {
			b.logger.Warn("intervention notify failed", zap.String("application_id", applicationID), zap.Error(err))
		}
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case payload := <-p.resultCh:
		return payload, nil
	case <-timer.C:
		b.mu.Lock()
		delete(b.waiting, applicationID)
		b.mu.Unlock()
		return nil, domain.ErrInterventionTimeout
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.waiting, applicationID)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Resolve supplies the operator's response for a pending intervention.
// It is idempotent: resolving an already-resolved or unknown application
// ID is a no-op that reports ok=false rather than an error, since a late
// or duplicate operator action must never destabilize the worker side.
func (b *Bridge) Resolve(applicationID string, payload map[string]any) (ok bool) {
	b.mu.Lock()
	p, exists := b.waiting[applicationID]
	if !exists || p.resolved {
		b.mu.Unlock()
		return false
	}
	p.resolved = true
	delete(b.waiting, applicationID)
	b.mu.Unlock()

	p.resultCh <- payload
	return true
}

// Pending reports whether an intervention is currently outstanding for
// applicationID, and if so, which kind.
func (b *Bridge) Pending(applicationID string) (domain.InterventionKind, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.waiting[applicationID]
	if !ok {
		return "", false
	}
	return p.kind, true
}

// PendingCount reports the number of interventions currently outstanding.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiting)
}
