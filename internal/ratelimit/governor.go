// Package ratelimit implements a non-blocking per-domain admission
// governor: one admission record per domain, enforcing daily caps,
// minimum intervals, concurrency ceilings, avoid flags, and
// blocked-until cooldowns. The try_acquire/release contract is
// non-blocking by design — the Governor must never hold a lock across
// an outbound call.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/autoapply/orchestrator/internal/domain"
)

// Decision is the outcome of a try_acquire call.
type Decision string

// Admission decisions.
const (
	Admit  Decision = "admit"
	Defer  Decision = "defer"
	Reject Decision = "reject"
)

// Result carries the decision plus any supplementary data.
type Result struct {
	Decision   Decision
	EarliestAt time.Time // valid when Decision == Defer
	Reason     string    // valid when Decision == Reject
}

// Outcome describes how a released slot concluded, for release().
type Outcome string

// Release outcomes.
const (
	OutcomeOK      Outcome = "ok"
	OutcomeBlocked Outcome = "blocked"
	OutcomeTimeout Outcome = "timeout"
)

type domainState struct {
	mu               sync.Mutex
	policy           domain.DomainPolicy
	pacer            *rate.Limiter
	applicationsDay  int
	dayKey           string
	lastStartedAt    time.Time
	inFlight         int
	blockedUntil     time.Time
}

// Governor manages one admission record per domain.
type Governor struct {
	mu      sync.Mutex
	domains map[string]*domainState
	clock   domain.Clock
	loc     *time.Location
	onEvent func(domain.EventType, string, map[string]any)
}

// New constructs a Governor. loc is the timezone used for the daily
// reset boundary of every domain (UTC when nil); Session.Timezone is not
// consulted.
func New(clk domain.Clock, loc *time.Location, onEvent func(domain.EventType, string, map[string]any)) *Governor {
	if loc == nil {
		loc = time.UTC
	}
	if onEvent == nil {
		onEvent = func(domain.EventType, string, map[string]any) {}
	}
	return &Governor{
		domains: make(map[string]*domainState),
		clock:   clk,
		loc:     loc,
		onEvent: onEvent,
	}
}

// LoadPolicies seeds domain state from the repository snapshot loaded
// at session start.
func (g *Governor) LoadPolicies(policies []domain.DomainPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range policies {
		g.domains[p.Domain] = &domainState{policy: p, pacer: rate.NewLimiter(rate.Inf, 1)}
	}
}

func (g *Governor) stateFor(host string) *domainState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.domains[host]
	if !ok {
		st = &domainState{
			policy: domain.DomainPolicy{
				Domain:             host,
				MaxPerDay:          1 << 30,
				MinIntervalSeconds: 0,
				MaxConcurrent:      1 << 30,
				CooldownSeconds:    1800,
			},
		}
		g.domains[host] = st
	}
	return st
}

func (g *Governor) dayKey(now time.Time) string {
	return now.In(g.loc).Format("2006-01-02")
}

// TryAcquire evaluates admission for one domain without blocking. It
// never calls out while holding st.mu.
func (g *Governor) TryAcquire(host string) Result {
	st := g.stateFor(host)
	now := g.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	key := g.dayKey(now)
	if st.dayKey != key {
		st.dayKey = key
		st.applicationsDay = 0
	}

	if st.policy.Avoid {
		return Result{Decision: Reject, Reason: "avoid"}
	}
	if !st.blockedUntil.IsZero() && now.Before(st.blockedUntil) {
		return Result{Decision: Defer, EarliestAt: st.blockedUntil}
	}
	if st.applicationsDay >= st.policy.MaxPerDay {
		return Result{Decision: Reject, Reason: "day_cap_reached"}
	}
	if st.inFlight >= st.policy.MaxConcurrent {
		return Result{Decision: Defer, EarliestAt: now.Add(time.Second)}
	}
	minInterval := time.Duration(st.policy.MinIntervalSeconds) * time.Second
	if !st.lastStartedAt.IsZero() {
		next := st.lastStartedAt.Add(minInterval)
		if now.Before(next) {
			return Result{Decision: Defer, EarliestAt: next}
		}
	}

	st.inFlight++
	st.lastStartedAt = now
	st.applicationsDay++
	return Result{Decision: Admit}
}

// Release returns an in-flight slot to a domain and records the outcome.
func (g *Governor) Release(host string, outcome Outcome) {
	st := g.stateFor(host)
	now := g.clock.Now()

	st.mu.Lock()
	if st.inFlight > 0 {
		st.inFlight--
	}
	shouldEmitBlocked := false
	if outcome == OutcomeBlocked {
		st.blockedUntil = now.Add(time.Duration(st.policy.CooldownSeconds) * time.Second)
		shouldEmitBlocked = true
	}
	st.mu.Unlock()

	if shouldEmitBlocked {
		g.onEvent(domain.EventDomainBlocked, host, map[string]any{"domain": host})
	}
}

// DailyReset resets applications_today for all domains; intended to be
// invoked by a scheduler at local midnight, or lazily via TryAcquire's
// day-key check (both are safe; this variant supports an explicit
// sweep across long-lived processes with no active dispatch).
func (g *Governor) DailyReset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	key := g.dayKey(now)
	for _, st := range g.domains {
		st.mu.Lock()
		if st.dayKey != key {
			st.dayKey = key
			st.applicationsDay = 0
		}
		st.mu.Unlock()
	}
}

// InFlight reports the current in-flight count for a domain.
func (g *Governor) InFlight(host string) int {
	st := g.stateFor(host)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inFlight
}

// Avoid reports whether host is currently flagged to avoid, for the
// Policy Evaluator's domain_avoid signal.
func (g *Governor) Avoid(host string) bool {
	st := g.stateFor(host)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.policy.Avoid
}
