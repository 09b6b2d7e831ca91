package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/eventlog"
	"github.com/autoapply/orchestrator/internal/intervention"
	"github.com/autoapply/orchestrator/internal/ratelimit"
	"github.com/autoapply/orchestrator/internal/repository/memory"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type scriptedExecutor struct {
	outcome domain.ExecutorOutcome
	err     error
	panic   bool
}

func (s scriptedExecutor) RunApplication(_ context.Context, _ domain.Application, _ domain.Effort, onEvent domain.EventCallback) (domain.ExecutorOutcome, error) {
	if s.panic {
		panic("simulated executor crash")
	}
	onEvent(domain.EventItemStarted, "", nil)
	return s.outcome, s.err
}

func newTestWorker(t *testing.T, repo *memory.Repository, exec domain.Executor, bridgeTimeout time.Duration) (*Worker, *eventlog.Log, *intervention.Bridge) {
	t.Helper()
	clk := systemClock{}
	events := eventlog.New(repo, clk, zap.NewNop())
	gov := ratelimit.New(clk, time.UTC, nil)
	bridge := intervention.New(bridgeTimeout, clk, nil, zap.NewNop())
	w := New(1, exec, repo, events, gov, bridge, clk, zap.NewNop())
	return w, events, bridge
}

func seedApplication(t *testing.T, repo *memory.Repository, id string) domain.Application {
	t.Helper()
	app := domain.Application{ID: id, SessionID: "sess-1", Domain: "ats.example.com", Status: domain.AppInProgress, EnqueuedAt: time.Now()}
	require.NoError(t, repo.CreateApplication(context.Background(), app))
	return app
}

func TestProcessItemSubmittedPath(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	w, _, _ := newTestWorker(t, repo, scriptedExecutor{outcome: domain.ExecutorOutcome{Kind: domain.OutcomeSubmitted}}, time.Second)
	app := seedApplication(t, repo, "app-1")

	res := w.processItem(context.Background(), app)
	require.Equal(t, domain.OutcomeSubmitted, res.Outcome)
	require.NoError(t, res.Err)

	got, err := repo.GetApplication(context.Background(), "app-1")
	require.NoError(t, err)
	require.Equal(t, domain.AppSubmitted, got.Status)
	require.NotNil(t, got.SubmittedAt)
}

func TestProcessItemFailedPath(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	w, _, _ := newTestWorker(t, repo, scriptedExecutor{outcome: domain.ExecutorOutcome{Kind: domain.OutcomeFailed, FailureReason: "form_error"}}, time.Second)
	app := seedApplication(t, repo, "app-2")

	res := w.processItem(context.Background(), app)
	require.Equal(t, domain.OutcomeFailed, res.Outcome)

	got, err := repo.GetApplication(context.Background(), "app-2")
	require.NoError(t, err)
	require.Equal(t, domain.AppFailed, got.Status)
	require.Equal(t, "form_error", got.FailureReason)
}

func TestProcessItemPanicIsContained(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	w, _, _ := newTestWorker(t, repo, scriptedExecutor{panic: true}, time.Second)
	app := seedApplication(t, repo, "app-3")

	res := w.processItem(context.Background(), app)
	require.Equal(t, domain.OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)

	got, err := repo.GetApplication(context.Background(), "app-3")
	require.NoError(t, err)
	require.Equal(t, domain.AppFailed, got.Status)
	require.Equal(t, "worker_crashed", got.FailureReason)
}

func TestHandleInterventionResolvedResumesProcessing(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	exec := scriptedExecutor{outcome: domain.ExecutorOutcome{Kind: domain.OutcomeNeedsIntervention, InterventionKind: domain.InterventionCaptcha}}
	w, _, bridge := newTestWorker(t, repo, exec, 300*time.Millisecond)
	app := seedApplication(t, repo, "app-4")

	resultCh := make(chan Result, 1)
	go func() { resultCh <- w.processItem(context.Background(), app) }()

	require.Eventually(t, func() bool {
		_, ok := bridge.Pending("app-4")
		return ok
	}, time.Second, 5*time.Millisecond)

	require.True(t, bridge.Resolve("app-4", map[string]any{"code": "123456"}))
	res := <-resultCh
	require.Equal(t, domain.OutcomeFailed, res.Outcome, "executor keeps returning needs_intervention in this fixture, so the retried attempt times out and fails")
	require.ErrorIs(t, res.Err, domain.ErrInterventionTimeout)
}

func TestHandleInterventionTimeoutFails(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	exec := scriptedExecutor{outcome: domain.ExecutorOutcome{Kind: domain.OutcomeNeedsIntervention, InterventionKind: domain.InterventionTwoFactor}}
	w, _, _ := newTestWorker(t, repo, exec, 20*time.Millisecond)
	app := seedApplication(t, repo, "app-5")

	res := w.processItem(context.Background(), app)
	require.Equal(t, domain.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, domain.ErrInterventionTimeout)

	got, err := repo.GetApplication(context.Background(), "app-5")
	require.NoError(t, err)
	require.Equal(t, domain.AppFailed, got.Status)
	require.Equal(t, "intervention_timeout", got.FailureReason)
}
