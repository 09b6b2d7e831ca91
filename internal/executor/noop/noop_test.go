package noop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoapply/orchestrator/internal/domain"
)

func TestRunApplicationSubmitsByDefault(t *testing.T) {
	t.Parallel()
	e := New()
	var events []domain.EventType
	cb := func(kind domain.EventType, _ string, _ map[string]any) { events = append(events, kind) }

	outcome, err := e.RunApplication(context.Background(), domain.Application{ID: "app-1"}, domain.EffortLow, cb)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSubmitted, outcome.Kind)
	require.Contains(t, events, domain.EventItemSubmitted)
}

func TestRunApplicationScriptedInterventionThenSubmits(t *testing.T) {
	t.Parallel()
	e := New()
	e.InterventionKinds = []domain.InterventionKind{domain.InterventionCaptcha}
	cb := func(domain.EventType, string, map[string]any) {}

	outcome, err := e.RunApplication(context.Background(), domain.Application{ID: "app-2"}, domain.EffortLow, cb)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeNeedsIntervention, outcome.Kind)

	outcome, err = e.RunApplication(context.Background(), domain.Application{ID: "app-2"}, domain.EffortLow, cb)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSubmitted, outcome.Kind)
}
