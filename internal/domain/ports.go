package domain

import (
	"context"
	"time"
)

// Clock returns the current time; a seam for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque 128-bit identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Repository is the full persistence contract for the control plane.
type Repository interface {
	SessionRepository
	ApplicationRepository
	QuestionRepository
	EventRepository
	UsageRepository
	DigestRepository
	DomainPolicyRepository
}

// SessionRepository persists Session rows.
type SessionRepository interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, when time.Time) error
	UpdateSessionCounters(ctx context.Context, id string, delta Counters) error
	MarkSessionTerminal(ctx context.Context, id string, status SessionStatus, when time.Time) error
	ListNonTerminalSessions(ctx context.Context) ([]Session, error)
}

// ApplicationRepository persists Application rows and their status history.
type ApplicationRepository interface {
	CreateApplication(ctx context.Context, a Application) error
	GetApplication(ctx context.Context, id string) (Application, error)
	UpdateApplicationStatus(ctx context.Context, id string, status ApplicationStatus, reason, detail string, when time.Time) error
	SetApplicationTiming(ctx context.Context, id string, startedAt, submittedAt *time.Time) error
	IncrementApplicationCounters(ctx context.Context, id string, tokensIn, tokensOut int64, cost float64) error
	ListQueued(ctx context.Context, sessionID string, limit int) ([]Application, error)
	ListInProgress(ctx context.Context, sessionID string) ([]Application, error)
	StatusHistory(ctx context.Context, applicationID string) ([]StatusChange, error)
}

// StatusChange is one row of an application's append-only status history.
type StatusChange struct {
	ApplicationID string
	From          ApplicationStatus
	To            ApplicationStatus
	Reason        string
	At            time.Time
}

// QuestionRepository persists field-level audit records.
type QuestionRepository interface {
	AppendQuestion(ctx context.Context, q Question) (stepIndex int, err error)
	ListQuestions(ctx context.Context, applicationID string) ([]Question, error)
}

// EventRepository is the durable side of the Event Log (§4.3).
type EventRepository interface {
	AppendEvent(ctx context.Context, e Event) (sequence int64, err error)
	ListEvents(ctx context.Context, sessionID string) ([]Event, error)
}

// UsageRepository persists per-call model usage.
type UsageRepository interface {
	AppendUsage(ctx context.Context, u ModelUsage) error
	SessionUsage(ctx context.Context, sessionID string) ([]ModelUsage, error)
}

// DigestRepository persists terminal session summaries.
type DigestRepository interface {
	UpsertDigest(ctx context.Context, d Digest) error
	GetDigest(ctx context.Context, sessionID string) (Digest, error)
}

// DomainPolicyRepository persists shared per-domain configuration.
type DomainPolicyRepository interface {
	LoadAllDomainPolicies(ctx context.Context) ([]DomainPolicy, error)
	UpsertDomainPolicy(ctx context.Context, p DomainPolicy) error
}

// ExecutorOutcomeKind is the explicit outcome variant an executor
// returns instead of raising an exception for CAPTCHA or two-factor
// signaling.
type ExecutorOutcomeKind string

// Executor outcome kinds.
const (
	OutcomeSubmitted         ExecutorOutcomeKind = "submitted"
	OutcomeFailed            ExecutorOutcomeKind = "failed"
	OutcomeNeedsIntervention ExecutorOutcomeKind = "needs_intervention"
)

// InterventionKind names the reason a worker suspended for a human.
type InterventionKind string

// Intervention kinds.
const (
	InterventionCaptcha    InterventionKind = "captcha"
	InterventionTwoFactor  InterventionKind = "two_factor"
	InterventionSuspicious InterventionKind = "suspicious_activity"
)

// ExecutorOutcome is the result of one RunApplication invocation.
type ExecutorOutcome struct {
	Kind             ExecutorOutcomeKind
	FailureReason    string
	InterventionKind InterventionKind
	Payload          map[string]any
	Questions        []Question
	TokensIn         int64
	TokensOut        int64
	Cost             float64
}

// EventCallback lets the executor stream out-of-band events (captcha
// detected, step completed) while a RunApplication call is in flight.
type EventCallback func(EventType, string, map[string]any)

// Executor is the opaque `run_application(item, effort) -> outcome`
// collaborator; browser automation lives entirely behind this boundary.
type Executor interface {
	RunApplication(ctx context.Context, app Application, effort Effort, onEvent EventCallback) (ExecutorOutcome, error)
}

// Notifier is a one-shot notification sink: notify(kind, payload).
type Notifier interface {
	Notify(ctx context.Context, kind string, payload map[string]any) error
}

// Archiver durably exports a terminal digest or audit bundle outside
// the relational repository (e.g. to object storage).
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) (uri string, err error)
}
