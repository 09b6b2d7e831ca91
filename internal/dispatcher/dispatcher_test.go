package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/eventlog"
	"github.com/autoapply/orchestrator/internal/intervention"
	"github.com/autoapply/orchestrator/internal/policy/effort"
	"github.com/autoapply/orchestrator/internal/ratelimit"
	"github.com/autoapply/orchestrator/internal/repository/memory"
	"github.com/autoapply/orchestrator/internal/worker"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type instantExecutor struct{}

func (instantExecutor) RunApplication(_ context.Context, app domain.Application, _ domain.Effort, onEvent domain.EventCallback) (domain.ExecutorOutcome, error) {
	onEvent(domain.EventItemSubmitted, app.ID, nil)
	return domain.ExecutorOutcome{Kind: domain.OutcomeSubmitted}, nil
}

func newHarness(t *testing.T, workerCount int) (*Dispatcher, *memory.Repository, string) {
	t.Helper()
	return newHarnessWithPolicy(t, workerCount, effort.Policy{})
}

func newHarnessWithPolicy(t *testing.T, workerCount int, policy effort.Policy) (*Dispatcher, *memory.Repository, string) {
	t.Helper()
	repo := memory.New()
	clk := systemClock{}
	events := eventlog.New(repo, clk, zap.NewNop())
	gov := ratelimit.New(clk, time.UTC, nil)
	bridge := intervention.New(time.Second, clk, nil, zap.NewNop())

	var workers []*worker.Worker
	for i := 0; i < workerCount; i++ {
		workers = append(workers, worker.New(i, instantExecutor{}, repo, events, gov, bridge, clk, zap.NewNop()))
	}
	pool := worker.NewPool(workers, 10)
	d := New(repo, events, gov, pool, policy, clk, zap.NewNop(), 10*time.Millisecond, 5)

	sessionID := "sess-1"
	require.NoError(t, repo.CreateSession(context.Background(), domain.Session{
		ID: sessionID, Status: domain.SessionRunning,
		Limits: domain.Limits{MaxItems: 1000, MaxDuration: time.Hour, MaxConcurrency: workerCount, BudgetCost: 1000},
	}))
	return d, repo, sessionID
}

func TestDispatcherProcessesQueuedItemsToCompletion(t *testing.T) {
	t.Parallel()
	d, repo, sessionID := newHarness(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		app := domain.Application{
			ID: "app-" + string(rune('a'+i)), SessionID: sessionID, Domain: "ats.example.com",
			Status: domain.AppQueued, InsertionSeq: int64(i), EnqueuedAt: time.Now(),
		}
		require.NoError(t, repo.CreateApplication(ctx, app))
	}

	go func() {
		d.pool.Run(ctx)
	}()

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	outcome := d.Run(runCtx, sessionID, func() (bool, string) { return false, "" }, func() bool { return false })
	require.Equal(t, "exhausted", outcome.Reason)

	for i := 0; i < 3; i++ {
		app, err := repo.GetApplication(ctx, "app-"+string(rune('a'+i)))
		require.NoError(t, err)
		require.Equal(t, domain.AppSubmitted, app.Status)
	}
}

func TestDispatcherStopsOnCancellation(t *testing.T) {
	t.Parallel()
	d, repo, sessionID := newHarness(t, 1)
	ctx := context.Background()
	require.NoError(t, repo.CreateApplication(ctx, domain.Application{
		ID: "app-x", SessionID: sessionID, Domain: "ats.example.com", Status: domain.AppQueued, EnqueuedAt: time.Now(),
	}))

	go d.pool.Run(ctx)

	cancelled := false
	outcome := d.Run(ctx, sessionID, func() (bool, string) { return false, "" }, func() bool {
		cancelled = true
		return true
	})
	require.True(t, cancelled)
	require.Equal(t, "cancelled", outcome.Reason)
}

func TestDispatcherSkipsLowMatchItemsBeforeRateAdmission(t *testing.T) {
	t.Parallel()
	policy := effort.Policy{SkipThreshold: 0.5}
	d, repo, sessionID := newHarnessWithPolicy(t, 1, policy)
	ctx := context.Background()
	require.NoError(t, repo.CreateApplication(ctx, domain.Application{
		ID: "app-low", SessionID: sessionID, Domain: "ats.example.com",
		Status: domain.AppQueued, MatchScore: 0.1, EnqueuedAt: time.Now(),
	}))

	go d.pool.Run(ctx)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	outcome := d.Run(runCtx, sessionID, func() (bool, string) { return false, "" }, func() bool { return false })
	require.Equal(t, "exhausted", outcome.Reason)

	app, err := repo.GetApplication(ctx, "app-low")
	require.NoError(t, err)
	require.Equal(t, domain.AppSkipped, app.Status)
	require.Equal(t, "low_match", app.FailureReason)

	s, err := repo.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, 1, s.Counters.Attempted)
	require.Equal(t, 1, s.Counters.Skipped)
	require.Equal(t, 0, s.Counters.Succeeded)
	require.Equal(t, 0, s.Counters.Failed)
}
