// Package memory provides an in-memory Repository implementation:
// RWMutex-guarded maps, copy-on-read list accessors, one zero-value
// struct per entity family. It is the reference implementation
// exercised by tests and the default single-process deployment;
// internal/repository/postgres implements the same domain.Repository
// contract durably.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autoapply/orchestrator/internal/domain"
)

// Repository is an in-memory, process-local implementation of domain.Repository.
type Repository struct {
	mu sync.RWMutex

	sessions        map[string]domain.Session
	applications    map[string]domain.Application
	statusHistory   map[string][]domain.StatusChange
	questions       map[string][]domain.Question
	events          map[string][]domain.Event
	eventSeq        int64
	usage           map[string][]domain.ModelUsage
	digests         map[string]domain.Digest
	domainPolicies  map[string]domain.DomainPolicy
}

// New constructs an empty in-memory Repository.
func New() *Repository {
	return &Repository{
		sessions:       make(map[string]domain.Session),
		applications:   make(map[string]domain.Application),
		statusHistory:  make(map[string][]domain.StatusChange),
		questions:      make(map[string][]domain.Question),
		events:         make(map[string][]domain.Event),
		usage:          make(map[string][]domain.ModelUsage),
		digests:        make(map[string]domain.Digest),
		domainPolicies: make(map[string]domain.DomainPolicy),
	}
}

// --- SessionRepository ---

func (r *Repository) CreateSession(_ context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("create session %s: %w", s.ID, domain.ErrAlreadyExists)
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *Repository) GetSession(_ context.Context, id string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (r *Repository) UpdateSessionStatus(_ context.Context, id string, status domain.SessionStatus, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("update session status %s: %w", id, domain.ErrNotFound)
	}
	s.Status = status
	if status == domain.SessionRunning && s.StartedAt == nil {
		t := when
		s.StartedAt = &t
	}
	r.sessions[id] = s
	return nil
}

func (r *Repository) UpdateSessionCounters(_ context.Context, id string, delta domain.Counters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("update session counters %s: %w", id, domain.ErrNotFound)
	}
	s.Counters.Attempted += delta.Attempted
	s.Counters.Succeeded += delta.Succeeded
	s.Counters.Failed += delta.Failed
	s.Counters.Skipped += delta.Skipped
	s.Counters.Cancelled += delta.Cancelled
	s.Counters.InFlight += delta.InFlight
	s.Counters.TokensIn += delta.TokensIn
	s.Counters.TokensOut += delta.TokensOut
	s.Counters.Cost += delta.Cost
	r.sessions[id] = s
	return nil
}

func (r *Repository) MarkSessionTerminal(_ context.Context, id string, status domain.SessionStatus, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("mark session terminal %s: %w", id, domain.ErrNotFound)
	}
	s.Status = status
	t := when
	s.EndedAt = &t
	r.sessions[id] = s
	return nil
}

func (r *Repository) ListNonTerminalSessions(_ context.Context) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- ApplicationRepository ---

func (r *Repository) CreateApplication(_ context.Context, a domain.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.applications[a.ID]; exists {
		return fmt.Errorf("create application %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	r.applications[a.ID] = a
	return nil
}

func (r *Repository) GetApplication(_ context.Context, id string) (domain.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.applications[id]
	if !ok {
		return domain.Application{}, fmt.Errorf("get application %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (r *Repository) UpdateApplicationStatus(_ context.Context, id string, status domain.ApplicationStatus, reason, detail string, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.applications[id]
	if !ok {
		return fmt.Errorf("update application status %s: %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(a.Status, status) {
		return fmt.Errorf("update application status %s: %s -> %s: %w", id, a.Status, status, domain.ErrIllegalTransition)
	}
	from := a.Status
	a.Status = status
	a.FailureReason = reason
	a.FailureDetail = detail
	r.applications[id] = a
	r.statusHistory[id] = append(r.statusHistory[id], domain.StatusChange{
		ApplicationID: id, From: from, To: status, Reason: reason, At: when,
	})
	return nil
}

func (r *Repository) SetApplicationTiming(_ context.Context, id string, startedAt, submittedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.applications[id]
	if !ok {
		return fmt.Errorf("set application timing %s: %w", id, domain.ErrNotFound)
	}
	if startedAt != nil {
		a.StartedAt = startedAt
	}
	if submittedAt != nil {
		a.SubmittedAt = submittedAt
	}
	r.applications[id] = a
	return nil
}

func (r *Repository) IncrementApplicationCounters(_ context.Context, id string, tokensIn, tokensOut int64, cost float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.applications[id]
	if !ok {
		return fmt.Errorf("increment application counters %s: %w", id, domain.ErrNotFound)
	}
	a.TokensIn += tokensIn
	a.TokensOut += tokensOut
	a.Cost += cost
	r.applications[id] = a
	return nil
}

func (r *Repository) ListQueued(_ context.Context, sessionID string, limit int) ([]domain.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Application
	for _, a := range r.applications {
		if a.SessionID == sessionID && a.Status == domain.AppQueued {
			out = append(out, a)
		}
	}
	sortByScoreThenSeq(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) ListInProgress(_ context.Context, sessionID string) ([]domain.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Application
	for _, a := range r.applications {
		if a.SessionID == sessionID && a.Status == domain.AppInProgress {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Repository) StatusHistory(_ context.Context, applicationID string) ([]domain.StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist := r.statusHistory[applicationID]
	out := make([]domain.StatusChange, len(hist))
	copy(out, hist)
	return out, nil
}

// sortByScoreThenSeq orders queued applications by descending score
// bucket, then ascending insertion sequence, so higher-scored items are
// dispatched first and ties break first-in-first-out.
func sortByScoreThenSeq(apps []domain.Application) {
	for i := 1; i < len(apps); i++ {
		for j := i; j > 0; j-- {
			a, b := apps[j-1], apps[j]
			if a.ScoreBucket < b.ScoreBucket || (a.ScoreBucket == b.ScoreBucket && a.InsertionSeq > b.InsertionSeq) {
				apps[j-1], apps[j] = apps[j], apps[j-1]
				continue
			}
			break
		}
	}
}

// --- QuestionRepository ---

func (r *Repository) AppendQuestion(_ context.Context, q domain.Question) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.questions[q.ApplicationID])
	q.StepIndex = idx
	r.questions[q.ApplicationID] = append(r.questions[q.ApplicationID], q)
	return idx, nil
}

func (r *Repository) ListQuestions(_ context.Context, applicationID string) ([]domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qs := r.questions[applicationID]
	out := make([]domain.Question, len(qs))
	copy(out, qs)
	return out, nil
}

// --- EventRepository ---

func (r *Repository) AppendEvent(_ context.Context, e domain.Event) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventSeq++
	e.Sequence = r.eventSeq
	r.events[e.SessionID] = append(r.events[e.SessionID], e)
	return r.eventSeq, nil
}

func (r *Repository) ListEvents(_ context.Context, sessionID string) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evs := r.events[sessionID]
	out := make([]domain.Event, len(evs))
	copy(out, evs)
	return out, nil
}

// --- UsageRepository ---

func (r *Repository) AppendUsage(_ context.Context, u domain.ModelUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage[u.SessionID] = append(r.usage[u.SessionID], u)
	return nil
}

func (r *Repository) SessionUsage(_ context.Context, sessionID string) ([]domain.ModelUsage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u := r.usage[sessionID]
	out := make([]domain.ModelUsage, len(u))
	copy(out, u)
	return out, nil
}

// --- DigestRepository ---

func (r *Repository) UpsertDigest(_ context.Context, d domain.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests[d.SessionID] = d
	return nil
}

func (r *Repository) GetDigest(_ context.Context, sessionID string) (domain.Digest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.digests[sessionID]
	if !ok {
		return domain.Digest{}, fmt.Errorf("get digest %s: %w", sessionID, domain.ErrNotFound)
	}
	return d, nil
}

// --- DomainPolicyRepository ---

func (r *Repository) LoadAllDomainPolicies(_ context.Context) ([]domain.DomainPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DomainPolicy, 0, len(r.domainPolicies))
	for _, p := range r.domainPolicies {
		out = append(out, p)
	}
	return out, nil
}

func (r *Repository) UpsertDomainPolicy(_ context.Context, p domain.DomainPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domainPolicies[p.Domain] = p
	return nil
}
