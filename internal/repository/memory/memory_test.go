package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoapply/orchestrator/internal/domain"
)

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	r := New()
	ctx := context.Background()
	s := domain.Session{ID: "sess-1", Status: domain.SessionPlanned, CreatedAt: time.Now()}
	require.NoError(t, r.CreateSession(ctx, s))
	require.ErrorIs(t, r.CreateSession(ctx, s), domain.ErrAlreadyExists)

	require.NoError(t, r.UpdateSessionStatus(ctx, "sess-1", domain.SessionRunning, time.Now()))
	got, err := r.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, r.UpdateSessionCounters(ctx, "sess-1", domain.Counters{Attempted: 1, Succeeded: 1}))
	got, _ = r.GetSession(ctx, "sess-1")
	require.Equal(t, 1, got.Counters.Attempted)

	require.NoError(t, r.MarkSessionTerminal(ctx, "sess-1", domain.SessionCompleted, time.Now()))
	got, _ = r.GetSession(ctx, "sess-1")
	require.True(t, got.Status.IsTerminal())
	require.NotNil(t, got.EndedAt)

	_, err = r.GetSession(ctx, "missing")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestApplicationStatusTransitionsEnforced(t *testing.T) {
	t.Parallel()
	r := New()
	ctx := context.Background()
	a := domain.Application{ID: "app-1", SessionID: "sess-1", Status: domain.AppQueued}
	require.NoError(t, r.CreateApplication(ctx, a))

	require.NoError(t, r.UpdateApplicationStatus(ctx, "app-1", domain.AppInProgress, "", "", time.Now()))
	err := r.UpdateApplicationStatus(ctx, "app-1", domain.AppQueued, "", "", time.Now())
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	require.NoError(t, r.UpdateApplicationStatus(ctx, "app-1", domain.AppPaused, "rate_limited", "", time.Now()))
	require.NoError(t, r.UpdateApplicationStatus(ctx, "app-1", domain.AppInProgress, "", "", time.Now()))
	require.NoError(t, r.UpdateApplicationStatus(ctx, "app-1", domain.AppSubmitted, "", "", time.Now()))

	hist, err := r.StatusHistory(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, hist, 4)
}

func TestListQueuedOrdersByScoreThenSequence(t *testing.T) {
	t.Parallel()
	r := New()
	ctx := context.Background()
	mk := func(id string, score int, seq int64) domain.Application {
		return domain.Application{ID: id, SessionID: "s", Status: domain.AppQueued, ScoreBucket: score, InsertionSeq: seq}
	}
	require.NoError(t, r.CreateApplication(ctx, mk("low-early", 1, 1)))
	require.NoError(t, r.CreateApplication(ctx, mk("high-late", 3, 5)))
	require.NoError(t, r.CreateApplication(ctx, mk("high-early", 3, 2)))

	out, err := r.ListQueued(ctx, "s", 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "high-early", out[0].ID)
	require.Equal(t, "high-late", out[1].ID)
	require.Equal(t, "low-early", out[2].ID)
}

func TestEventAppendSequenceMonotonic(t *testing.T) {
	t.Parallel()
	r := New()
	ctx := context.Background()
	s1, err := r.AppendEvent(ctx, domain.Event{SessionID: "s", Type: domain.EventItemQueued})
	require.NoError(t, err)
	s2, err := r.AppendEvent(ctx, domain.Event{SessionID: "s", Type: domain.EventItemStarted})
	require.NoError(t, err)
	require.Greater(t, s2, s1)

	events, err := r.ListEvents(ctx, "s")
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestDomainPolicyUpsertAndLoad(t *testing.T) {
	t.Parallel()
	r := New()
	ctx := context.Background()
	require.NoError(t, r.UpsertDomainPolicy(ctx, domain.DomainPolicy{Domain: "a.com", MaxPerDay: 5}))
	require.NoError(t, r.UpsertDomainPolicy(ctx, domain.DomainPolicy{Domain: "a.com", MaxPerDay: 10}))
	policies, err := r.LoadAllDomainPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	require.Equal(t, 10, policies[0].MaxPerDay)
}
