// Package noop provides a deterministic domain.Executor fake used in
// default/test deployments where no real browser automation is wired: a
// zero-dependency stand-in that always takes the success path so the
// rest of the pipeline can be exercised end to end.
package noop

import (
	"context"

	"github.com/autoapply/orchestrator/internal/domain"
)

// Executor always reports submission, optionally after a scripted
// sequence of intervention pauses, used to drive the intervention
// timeout path in tests without a real browser.
type Executor struct {
	// InterventionKinds, if non-empty, are returned in order on
	// successive calls for the same application before a final
	// submission; they let tests exercise the intervention path without
	// a real browser.
	InterventionKinds []domain.InterventionKind
	calls             map[string]int
}

// New constructs a noop Executor.
func New() *Executor {
	return &Executor{calls: make(map[string]int)}
}

// RunApplication implements domain.Executor.
func (e *Executor) RunApplication(_ context.Context, app domain.Application, _ domain.Effort, onEvent domain.EventCallback) (domain.ExecutorOutcome, error) {
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	call := e.calls[app.ID]
	e.calls[app.ID] = call + 1

	if call < len(e.InterventionKinds) {
		kind := e.InterventionKinds[call]
		if kind == domain.InterventionCaptcha {
			onEvent(domain.EventCaptchaDetected, app.ID, nil)
		} else {
			onEvent(domain.EventTwoFactorRequested, app.ID, nil)
		}
		return domain.ExecutorOutcome{Kind: domain.OutcomeNeedsIntervention, InterventionKind: kind}, nil
	}

	onEvent(domain.EventItemSubmitted, app.ID, nil)
	return domain.ExecutorOutcome{Kind: domain.OutcomeSubmitted}, nil
}
