// Package domain defines the core entities and invariants shared across
// the execution control plane: sessions, application items, questions,
// events, model usage, and domain policy.
package domain

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

// Session lifecycle states.
const (
	SessionPlanned    SessionStatus = "planned"
	SessionRunning    SessionStatus = "running"
	SessionPaused     SessionStatus = "paused"
	SessionDraining   SessionStatus = "draining"
	SessionCancelling SessionStatus = "cancelling"
	SessionFailing    SessionStatus = "failing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// Limits bounds a session's work.
type Limits struct {
	MaxItems       int
	MaxDuration    time.Duration
	MaxConcurrency int
	BudgetCost     float64
}

// Counters tracks additive session progress.
type Counters struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int
	InFlight  int
	TokensIn  int64
	TokensOut int64
	Cost      float64
}

// Session represents one bounded orchestrated run.
type Session struct {
	ID         string
	UserID     string
	Timezone   string
	Limits     Limits
	Counters   Counters
	Status     SessionStatus
	StartedAt  *time.Time
	EndedAt    *time.Time
	CreatedAt  time.Time
	EffortRef  string
	StealthRef string
}

// LimitsReached reports whether any session-level guard has tripped.
func (s Session) LimitsReached(now time.Time, nextEffortCostCeiling float64) (bool, string) {
	if s.Counters.Attempted >= s.Limits.MaxItems {
		return true, "max_items"
	}
	if s.StartedAt != nil && now.Sub(*s.StartedAt) >= s.Limits.MaxDuration {
		return true, "max_duration"
	}
	if s.Counters.Cost+nextEffortCostCeiling > s.Limits.BudgetCost {
		return true, "budget_cost"
	}
	return false, ""
}

// ApplicationStatus is the lifecycle state of an Application Item.
type ApplicationStatus string

// Application lifecycle states.
const (
	AppQueued     ApplicationStatus = "queued"
	AppInProgress ApplicationStatus = "in_progress"
	AppSubmitted  ApplicationStatus = "submitted"
	AppFailed     ApplicationStatus = "failed"
	AppPaused     ApplicationStatus = "paused"
	AppSkipped    ApplicationStatus = "skipped"
	AppCancelled  ApplicationStatus = "cancelled"
)

// legalTransitions enumerates the monotonic application status machine,
// including the explicit paused<->in_progress pair.
var legalTransitions = map[ApplicationStatus][]ApplicationStatus{
	AppQueued:     {AppInProgress, AppSkipped, AppCancelled},
	AppInProgress: {AppSubmitted, AppFailed, AppPaused, AppSkipped, AppCancelled},
	AppPaused:     {AppInProgress, AppFailed, AppSkipped, AppCancelled},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to ApplicationStatus) bool {
	for _, candidate := range legalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Effort is a coarse three-level label controlling executor sub-steps.
type Effort string

// Effort levels.
const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// effortRank orders efforts for upgrade/downgrade comparisons.
var effortRank = map[Effort]int{EffortLow: 0, EffortMedium: 1, EffortHigh: 2}

// Rank returns the ordinal rank of an effort level, low < medium < high.
func (e Effort) Rank() int { return effortRank[e] }

// Application is one attempt at one job posting within one session.
type Application struct {
	ID            string
	UserID        string
	SessionID     string
	JobURL        string
	Domain        string
	Effort        Effort
	MatchScore    float64
	ResumeRef     string
	ProfileRef    string
	Status        ApplicationStatus
	StartedAt     *time.Time
	SubmittedAt   *time.Time
	FailureReason string
	FailureDetail string
	TokensIn      int64
	TokensOut     int64
	Cost          float64
	EnqueuedAt    time.Time
	ScoreBucket   int
	InsertionSeq  int64
}

// ValueSource identifies where a filled field's value originated.
type ValueSource string

// Value sources for Question records.
const (
	SourceProfile  ValueSource = "profile"
	SourceLLM      ValueSource = "llm"
	SourceDefault  ValueSource = "default"
	SourceTemplate ValueSource = "template"
	SourceManual   ValueSource = "manual"
)

// FieldDescriptor describes one form field encountered by the executor.
type FieldDescriptor struct {
	Type          string
	NormalizedKey string
	RawLabel      string
	Required      bool
}

// Question is one field interaction captured for audit.
type Question struct {
	ApplicationID string
	StepIndex     int
	Field         FieldDescriptor
	Value         string
	Source        ValueSource
	Confidence    float64
	ValidationErr string
	Correction    string
	CorrectedBy   string
}

// EventType is drawn from a closed vocabulary of session and item events.
type EventType string

// Event types.
const (
	EventItemQueued             EventType = "item_queued"
	EventItemStarted            EventType = "item_started"
	EventItemSubmitted          EventType = "item_submitted"
	EventItemFailed             EventType = "item_failed"
	EventItemSkipped            EventType = "item_skipped"
	EventCaptchaDetected        EventType = "captcha_detected"
	EventCaptchaSolved          EventType = "captcha_solved"
	EventCaptchaFailed          EventType = "captcha_failed"
	EventTwoFactorRequested     EventType = "two_factor_requested"
	EventTwoFactorSupplied      EventType = "two_factor_supplied"
	EventRateLimitApplied       EventType = "rate_limit_applied"
	EventDomainBlocked          EventType = "domain_blocked"
	EventWorkerCrashed          EventType = "worker_crashed"
	EventSessionPaused          EventType = "session_paused"
	EventSessionResumed         EventType = "session_resumed"
	EventSessionCompleted       EventType = "session_completed"
	EventInterventionRequested  EventType = "intervention_requested"
	EventInterventionResolved   EventType = "intervention_resolved"
	EventInterventionTimeout    EventType = "intervention_timeout"
	EventSessionCancelled       EventType = "session_cancelled"
)

// Event is an append-only log record.
type Event struct {
	SessionID     string
	ApplicationID string
	Type          EventType
	Detail        string
	Payload       map[string]any
	Timestamp     time.Time
	Sequence      int64
}

// UsageStatus describes the outcome of one model usage call.
type UsageStatus string

// Usage statuses.
const (
	UsageSucceeded UsageStatus = "succeeded"
	UsageFailed    UsageStatus = "failed"
)

// ModelUsage is one LLM/embedding call attributed to an application or session.
type ModelUsage struct {
	ID            string
	SessionID     string
	ApplicationID string
	Provider      string
	Model         string
	Purpose       string
	TokensIn      int64
	TokensOut     int64
	Cost          float64
	StartedAt     time.Time
	EndedAt       time.Time
	Status        UsageStatus
}

// DomainPolicy is the per-target-host stealth/rate configuration.
type DomainPolicy struct {
	Domain             string
	MaxPerDay          int
	MinIntervalSeconds int
	MaxConcurrent      int
	Avoid              bool
	CooldownSeconds    int
	BlockedUntil       *time.Time
}

// Digest is the per-session terminal summary.
type Digest struct {
	SessionID        string
	Counters         Counters
	PerDomain        map[string]Counters
	PerEffort        map[Effort]int
	FailureTaxonomy  map[string]int
	ExampleByKind    map[string][]string
	GeneratedAt      time.Time
}
