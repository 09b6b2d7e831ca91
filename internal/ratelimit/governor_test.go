package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoapply/orchestrator/internal/domain"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestTryAcquireAdmitsThenEnforcesInterval(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	g := New(clk, time.UTC, nil)
	g.LoadPolicies([]domain.DomainPolicy{{Domain: "ats.company.com", MaxPerDay: 20, MinIntervalSeconds: 60, MaxConcurrent: 1}})

	r := g.TryAcquire("ats.company.com")
	require.Equal(t, Admit, r.Decision)

	r = g.TryAcquire("ats.company.com")
	require.Equal(t, Defer, r.Decision, "second attempt on same domain exceeds concurrency while in flight")

	g.Release("ats.company.com", OutcomeOK)

	r = g.TryAcquire("ats.company.com")
	require.Equal(t, Defer, r.Decision, "must wait out min_interval_seconds")
	require.True(t, r.EarliestAt.Sub(clk.now) > 0)

	clk.now = clk.now.Add(61 * time.Second)
	r = g.TryAcquire("ats.company.com")
	require.Equal(t, Admit, r.Decision)
}

func TestTryAcquireRejectsAvoidAndDayCap(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Now().UTC()}
	g := New(clk, time.UTC, nil)
	g.LoadPolicies([]domain.DomainPolicy{{Domain: "avoided.com", Avoid: true, MaxPerDay: 10, MaxConcurrent: 10}})
	r := g.TryAcquire("avoided.com")
	require.Equal(t, Reject, r.Decision)
	require.Equal(t, "avoid", r.Reason)

	g2 := New(clk, time.UTC, nil)
	g2.LoadPolicies([]domain.DomainPolicy{{Domain: "capped.com", MaxPerDay: 1, MaxConcurrent: 10}})
	r = g2.TryAcquire("capped.com")
	require.Equal(t, Admit, r.Decision)
	g2.Release("capped.com", OutcomeOK)
	r = g2.TryAcquire("capped.com")
	require.Equal(t, Reject, r.Decision)
	require.Equal(t, "day_cap_reached", r.Reason)
}

func TestReleaseBlockedSetsCooldownAndEmitsEvent(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Now().UTC()}
	var gotKind domain.EventType
	var gotDomain string
	g := New(clk, time.UTC, func(kind domain.EventType, d string, _ map[string]any) {
		gotKind, gotDomain = kind, d
	})
	g.LoadPolicies([]domain.DomainPolicy{{Domain: "risky.com", MaxPerDay: 10, MaxConcurrent: 10, CooldownSeconds: 1800}})
	g.TryAcquire("risky.com")
	g.Release("risky.com", OutcomeBlocked)
	require.Equal(t, domain.EventDomainBlocked, gotKind)
	require.Equal(t, "risky.com", gotDomain)

	r := g.TryAcquire("risky.com")
	require.Equal(t, Defer, r.Decision)
}

func TestDifferentDomainsIndependent(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Now().UTC()}
	g := New(clk, time.UTC, nil)
	g.LoadPolicies([]domain.DomainPolicy{
		{Domain: "a.com", MaxPerDay: 1, MaxConcurrent: 1},
		{Domain: "b.com", MaxPerDay: 1, MaxConcurrent: 1},
	})
	require.Equal(t, Admit, g.TryAcquire("a.com").Decision)
	require.Equal(t, Admit, g.TryAcquire("b.com").Decision, "domain b must not be blocked by domain a")
}
