// Package postgres provides a durable, pgx/v5-backed implementation of
// domain.Repository: a pgxpool.Pool held behind a small struct,
// parameterized SQL, fmt.Errorf wrapping, and a pool-accepting
// constructor that lets tests substitute pgxmock.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autoapply/orchestrator/internal/domain"
)

// dbPool is the subset of *pgxpool.Pool used by Repository, satisfied by
// both the real pool and pgxmock.PgxPoolIface in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is a Postgres-backed implementation of domain.Repository.
type Repository struct {
	pool dbPool
}

// New creates a Repository backed by a freshly opened connection pool.
func New(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// NewWithPool constructs a Repository over an already-open pool, letting
// tests substitute pgxmock.
func NewWithPool(pool dbPool) *Repository {
	return &Repository{pool: pool}
}

// Close releases the underlying connection pool, if it supports closing.
func (r *Repository) Close() {
	if closer, ok := r.pool.(interface{ Close() }); ok {
		closer.Close()
	}
}

// --- SessionRepository ---

func (r *Repository) CreateSession(ctx context.Context, s domain.Session) error {
	const q = `
		INSERT INTO sessions (id, user_id, timezone, max_items, max_duration_seconds, max_concurrency,
			budget_cost, status, created_at, effort_ref, stealth_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.UserID, s.Timezone, s.Limits.MaxItems,
		int64(s.Limits.MaxDuration.Seconds()), s.Limits.MaxConcurrency, s.Limits.BudgetCost,
		s.Status, s.CreatedAt, s.EffortRef, s.StealthRef)
	if err != nil {
		return fmt.Errorf("postgres: create session %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (domain.Session, error) {
	const q = `
		SELECT id, user_id, timezone, max_items, max_duration_seconds, max_concurrency, budget_cost,
			attempted, succeeded, failed, skipped, cancelled, in_flight, tokens_in, tokens_out, cost,
			status, started_at, ended_at, created_at, effort_ref, stealth_ref
		FROM sessions WHERE id = $1`
	var s domain.Session
	var maxDurSeconds int64
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&s.ID, &s.UserID, &s.Timezone, &s.Limits.MaxItems, &maxDurSeconds, &s.Limits.MaxConcurrency, &s.Limits.BudgetCost,
		&s.Counters.Attempted, &s.Counters.Succeeded, &s.Counters.Failed, &s.Counters.Skipped, &s.Counters.Cancelled,
		&s.Counters.InFlight, &s.Counters.TokensIn, &s.Counters.TokensOut, &s.Counters.Cost,
		&s.Status, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.EffortRef, &s.StealthRef,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Session{}, fmt.Errorf("postgres: get session %s: %w", id, domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	s.Limits.MaxDuration = time.Duration(maxDurSeconds) * time.Second
	return s, nil
}

func (r *Repository) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, when time.Time) error {
	const q = `
		UPDATE sessions SET status = $1,
			started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $2 ELSE started_at END
		WHERE id = $3`
	tag, err := r.pool.Exec(ctx, q, status, when, id)
	if err != nil {
		return fmt.Errorf("postgres: update session status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update session status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) UpdateSessionCounters(ctx context.Context, id string, delta domain.Counters) error {
	const q = `
		UPDATE sessions SET
			attempted = attempted + $1, succeeded = succeeded + $2, failed = failed + $3,
			skipped = skipped + $4, cancelled = cancelled + $5, in_flight = in_flight + $6,
			tokens_in = tokens_in + $7, tokens_out = tokens_out + $8, cost = cost + $9
		WHERE id = $10`
	tag, err := r.pool.Exec(ctx, q, delta.Attempted, delta.Succeeded, delta.Failed, delta.Skipped,
		delta.Cancelled, delta.InFlight, delta.TokensIn, delta.TokensOut, delta.Cost, id)
	if err != nil {
		return fmt.Errorf("postgres: update session counters %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update session counters %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) MarkSessionTerminal(ctx context.Context, id string, status domain.SessionStatus, when time.Time) error {
	const q = `UPDATE sessions SET status = $1, ended_at = $2 WHERE id = $3`
	tag, err := r.pool.Exec(ctx, q, status, when, id)
	if err != nil {
		return fmt.Errorf("postgres: mark session terminal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark session terminal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListNonTerminalSessions(ctx context.Context) ([]domain.Session, error) {
	const q = `SELECT id FROM sessions WHERE status NOT IN ('completed', 'failed', 'cancelled')`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list non-terminal sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan non-terminal session row: %w", err)
		}
		ids = append(ids, id)
	}
	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// --- ApplicationRepository ---

func (r *Repository) CreateApplication(ctx context.Context, a domain.Application) error {
	const q = `
		INSERT INTO applications (id, user_id, session_id, job_url, domain, effort, match_score,
			resume_ref, profile_ref, status, enqueued_at, score_bucket, insertion_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, q, a.ID, a.UserID, a.SessionID, a.JobURL, a.Domain, a.Effort, a.MatchScore,
		a.ResumeRef, a.ProfileRef, a.Status, a.EnqueuedAt, a.ScoreBucket, a.InsertionSeq)
	if err != nil {
		return fmt.Errorf("postgres: create application %s: %w", a.ID, err)
	}
	return nil
}

func (r *Repository) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	const q = `
		SELECT id, user_id, session_id, job_url, domain, effort, match_score, resume_ref, profile_ref,
			status, started_at, submitted_at, failure_reason, failure_detail, tokens_in, tokens_out,
			cost, enqueued_at, score_bucket, insertion_seq
		FROM applications WHERE id = $1`
	var a domain.Application
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.UserID, &a.SessionID, &a.JobURL, &a.Domain, &a.Effort, &a.MatchScore, &a.ResumeRef,
		&a.ProfileRef, &a.Status, &a.StartedAt, &a.SubmittedAt, &a.FailureReason, &a.FailureDetail,
		&a.TokensIn, &a.TokensOut, &a.Cost, &a.EnqueuedAt, &a.ScoreBucket, &a.InsertionSeq,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Application{}, fmt.Errorf("postgres: get application %s: %w", id, domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("postgres: get application %s: %w", id, err)
	}
	return a, nil
}

func (r *Repository) UpdateApplicationStatus(ctx context.Context, id string, status domain.ApplicationStatus, reason, detail string, when time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: update application status %s: begin: %w", id, err)
	}
	defer tx.Rollback(ctx)

	var from domain.ApplicationStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM applications WHERE id = $1 FOR UPDATE`, id).Scan(&from); err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("postgres: update application status %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: update application status %s: %w", id, err)
	}
	if !domain.CanTransition(from, status) {
		return fmt.Errorf("postgres: update application status %s: %s -> %s: %w", id, from, status, domain.ErrIllegalTransition)
	}
	if _, err := tx.Exec(ctx, `UPDATE applications SET status = $1, failure_reason = $2, failure_detail = $3 WHERE id = $4`,
		status, reason, detail, id); err != nil {
		return fmt.Errorf("postgres: update application status %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO application_status_history (application_id, from_status, to_status, reason, at)
		VALUES ($1, $2, $3, $4, $5)`, id, from, status, reason, when); err != nil {
		return fmt.Errorf("postgres: append status history %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: update application status %s: commit: %w", id, err)
	}
	return nil
}

func (r *Repository) SetApplicationTiming(ctx context.Context, id string, startedAt, submittedAt *time.Time) error {
	const q = `
		UPDATE applications SET
			started_at = COALESCE($1, started_at),
			submitted_at = COALESCE($2, submitted_at)
		WHERE id = $3`
	tag, err := r.pool.Exec(ctx, q, startedAt, submittedAt, id)
	if err != nil {
		return fmt.Errorf("postgres: set application timing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set application timing %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) IncrementApplicationCounters(ctx context.Context, id string, tokensIn, tokensOut int64, cost float64) error {
	const q = `
		UPDATE applications SET tokens_in = tokens_in + $1, tokens_out = tokens_out + $2, cost = cost + $3
		WHERE id = $4`
	tag, err := r.pool.Exec(ctx, q, tokensIn, tokensOut, cost, id)
	if err != nil {
		return fmt.Errorf("postgres: increment application counters %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: increment application counters %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListQueued(ctx context.Context, sessionID string, limit int) ([]domain.Application, error) {
	q := `
		SELECT id, user_id, session_id, job_url, domain, effort, match_score, resume_ref, profile_ref,
			status, started_at, submitted_at, failure_reason, failure_detail, tokens_in, tokens_out,
			cost, enqueued_at, score_bucket, insertion_seq
		FROM applications
		WHERE session_id = $1 AND status = 'queued'
		ORDER BY score_bucket DESC, insertion_seq ASC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		q += " LIMIT $2"
		rows, err = r.pool.Query(ctx, q, sessionID, limit)
	} else {
		rows, err = r.pool.Query(ctx, q, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list queued applications %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanApplications(rows)
}

func (r *Repository) ListInProgress(ctx context.Context, sessionID string) ([]domain.Application, error) {
	const q = `
		SELECT id, user_id, session_id, job_url, domain, effort, match_score, resume_ref, profile_ref,
			status, started_at, submitted_at, failure_reason, failure_detail, tokens_in, tokens_out,
			cost, enqueued_at, score_bucket, insertion_seq
		FROM applications WHERE session_id = $1 AND status = 'in_progress'`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list in-progress applications %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanApplications(rows)
}

func scanApplications(rows pgx.Rows) ([]domain.Application, error) {
	var out []domain.Application
	for rows.Next() {
		var a domain.Application
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.SessionID, &a.JobURL, &a.Domain, &a.Effort, &a.MatchScore, &a.ResumeRef,
			&a.ProfileRef, &a.Status, &a.StartedAt, &a.SubmittedAt, &a.FailureReason, &a.FailureDetail,
			&a.TokensIn, &a.TokensOut, &a.Cost, &a.EnqueuedAt, &a.ScoreBucket, &a.InsertionSeq,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan application row: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Repository) StatusHistory(ctx context.Context, applicationID string) ([]domain.StatusChange, error) {
	const q = `
		SELECT application_id, from_status, to_status, reason, at
		FROM application_status_history WHERE application_id = $1 ORDER BY at ASC`
	rows, err := r.pool.Query(ctx, q, applicationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: status history %s: %w", applicationID, err)
	}
	defer rows.Close()
	var out []domain.StatusChange
	for rows.Next() {
		var sc domain.StatusChange
		if err := rows.Scan(&sc.ApplicationID, &sc.From, &sc.To, &sc.Reason, &sc.At); err != nil {
			return nil, fmt.Errorf("postgres: scan status history row: %w", err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// --- QuestionRepository ---

func (r *Repository) AppendQuestion(ctx context.Context, q domain.Question) (int, error) {
	const insert = `
		INSERT INTO questions (application_id, step_index, field_type, field_key, field_label, field_required,
			value, source, confidence, validation_err, correction, corrected_by)
		VALUES ($1, (SELECT COALESCE(MAX(step_index), -1) + 1 FROM questions WHERE application_id = $1),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING step_index`
	var idx int
	err := r.pool.QueryRow(ctx, insert, q.ApplicationID, q.Field.Type, q.Field.NormalizedKey, q.Field.RawLabel,
		q.Field.Required, q.Value, q.Source, q.Confidence, q.ValidationErr, q.Correction, q.CorrectedBy).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("postgres: append question for %s: %w", q.ApplicationID, err)
	}
	return idx, nil
}

func (r *Repository) ListQuestions(ctx context.Context, applicationID string) ([]domain.Question, error) {
	const q = `
		SELECT application_id, step_index, field_type, field_key, field_label, field_required,
			value, source, confidence, validation_err, correction, corrected_by
		FROM questions WHERE application_id = $1 ORDER BY step_index ASC`
	rows, err := r.pool.Query(ctx, q, applicationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list questions %s: %w", applicationID, err)
	}
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		var qn domain.Question
		if err := rows.Scan(&qn.ApplicationID, &qn.StepIndex, &qn.Field.Type, &qn.Field.NormalizedKey,
			&qn.Field.RawLabel, &qn.Field.Required, &qn.Value, &qn.Source, &qn.Confidence, &qn.ValidationErr,
			&qn.Correction, &qn.CorrectedBy); err != nil {
			return nil, fmt.Errorf("postgres: scan question row: %w", err)
		}
		out = append(out, qn)
	}
	return out, nil
}

// --- EventRepository ---

func (r *Repository) AppendEvent(ctx context.Context, e domain.Event) (int64, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal event payload: %w", err)
	}
	const insert = `
		INSERT INTO events (session_id, application_id, type, detail, payload, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING sequence`
	var seq int64
	err = r.pool.QueryRow(ctx, insert, e.SessionID, e.ApplicationID, e.Type, e.Detail, payload, e.Timestamp).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: append event for session %s: %w", e.SessionID, err)
	}
	return seq, nil
}

func (r *Repository) ListEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	const q = `
		SELECT session_id, application_id, type, detail, payload, at, sequence
		FROM events WHERE session_id = $1 ORDER BY sequence ASC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", sessionID, err)
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload []byte
		if err := rows.Scan(&e.SessionID, &e.ApplicationID, &e.Type, &e.Detail, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, fmt.Errorf("postgres: scan event row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// --- UsageRepository ---

func (r *Repository) AppendUsage(ctx context.Context, u domain.ModelUsage) error {
	const q = `
		INSERT INTO model_usage (id, session_id, application_id, provider, model, purpose,
			tokens_in, tokens_out, cost, started_at, ended_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, q, u.ID, u.SessionID, u.ApplicationID, u.Provider, u.Model, u.Purpose,
		u.TokensIn, u.TokensOut, u.Cost, u.StartedAt, u.EndedAt, u.Status)
	if err != nil {
		return fmt.Errorf("postgres: append usage for session %s: %w", u.SessionID, err)
	}
	return nil
}

func (r *Repository) SessionUsage(ctx context.Context, sessionID string) ([]domain.ModelUsage, error) {
	const q = `
		SELECT id, session_id, application_id, provider, model, purpose, tokens_in, tokens_out, cost,
			started_at, ended_at, status
		FROM model_usage WHERE session_id = $1 ORDER BY started_at ASC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: session usage %s: %w", sessionID, err)
	}
	defer rows.Close()
	var out []domain.ModelUsage
	for rows.Next() {
		var u domain.ModelUsage
		if err := rows.Scan(&u.ID, &u.SessionID, &u.ApplicationID, &u.Provider, &u.Model, &u.Purpose,
			&u.TokensIn, &u.TokensOut, &u.Cost, &u.StartedAt, &u.EndedAt, &u.Status); err != nil {
			return nil, fmt.Errorf("postgres: scan usage row: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}

// --- DigestRepository ---

func (r *Repository) UpsertDigest(ctx context.Context, d domain.Digest) error {
	perDomain, err := json.Marshal(d.PerDomain)
	if err != nil {
		return fmt.Errorf("postgres: marshal digest per-domain: %w", err)
	}
	perEffort, err := json.Marshal(d.PerEffort)
	if err != nil {
		return fmt.Errorf("postgres: marshal digest per-effort: %w", err)
	}
	taxonomy, err := json.Marshal(d.FailureTaxonomy)
	if err != nil {
		return fmt.Errorf("postgres: marshal digest taxonomy: %w", err)
	}
	examples, err := json.Marshal(d.ExampleByKind)
	if err != nil {
		return fmt.Errorf("postgres: marshal digest examples: %w", err)
	}
	const q = `
		INSERT INTO digests (session_id, attempted, succeeded, failed, skipped, cancelled,
			per_domain, per_effort, failure_taxonomy, example_by_kind, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			attempted = EXCLUDED.attempted, succeeded = EXCLUDED.succeeded, failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped, cancelled = EXCLUDED.cancelled, per_domain = EXCLUDED.per_domain,
			per_effort = EXCLUDED.per_effort, failure_taxonomy = EXCLUDED.failure_taxonomy,
			example_by_kind = EXCLUDED.example_by_kind, generated_at = EXCLUDED.generated_at`
	_, err = r.pool.Exec(ctx, q, d.SessionID, d.Counters.Attempted, d.Counters.Succeeded, d.Counters.Failed,
		d.Counters.Skipped, d.Counters.Cancelled, perDomain, perEffort, taxonomy, examples, d.GeneratedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert digest %s: %w", d.SessionID, err)
	}
	return nil
}

func (r *Repository) GetDigest(ctx context.Context, sessionID string) (domain.Digest, error) {
	const q = `
		SELECT session_id, attempted, succeeded, failed, skipped, cancelled,
			per_domain, per_effort, failure_taxonomy, example_by_kind, generated_at
		FROM digests WHERE session_id = $1`
	var d domain.Digest
	var perDomain, perEffort, taxonomy, examples []byte
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&d.SessionID, &d.Counters.Attempted, &d.Counters.Succeeded,
		&d.Counters.Failed, &d.Counters.Skipped, &d.Counters.Cancelled, &perDomain, &perEffort, &taxonomy,
		&examples, &d.GeneratedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Digest{}, fmt.Errorf("postgres: get digest %s: %w", sessionID, domain.ErrNotFound)
		}
		return domain.Digest{}, fmt.Errorf("postgres: get digest %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(perDomain, &d.PerDomain); err != nil {
		return domain.Digest{}, fmt.Errorf("postgres: unmarshal digest per-domain: %w", err)
	}
	if err := json.Unmarshal(perEffort, &d.PerEffort); err != nil {
		return domain.Digest{}, fmt.Errorf("postgres: unmarshal digest per-effort: %w", err)
	}
	if err := json.Unmarshal(taxonomy, &d.FailureTaxonomy); err != nil {
		return domain.Digest{}, fmt.Errorf("postgres: unmarshal digest taxonomy: %w", err)
	}
	if err := json.Unmarshal(examples, &d.ExampleByKind); err != nil {
		return domain.Digest{}, fmt.Errorf("postgres: unmarshal digest examples: %w", err)
	}
	return d, nil
}

// --- DomainPolicyRepository ---

func (r *Repository) LoadAllDomainPolicies(ctx context.Context) ([]domain.DomainPolicy, error) {
	const q = `
		SELECT domain, max_per_day, min_interval_seconds, max_concurrent, avoid, cooldown_seconds, blocked_until
		FROM domain_policies`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: load domain policies: %w", err)
	}
	defer rows.Close()
	var out []domain.DomainPolicy
	for rows.Next() {
		var p domain.DomainPolicy
		if err := rows.Scan(&p.Domain, &p.MaxPerDay, &p.MinIntervalSeconds, &p.MaxConcurrent, &p.Avoid,
			&p.CooldownSeconds, &p.BlockedUntil); err != nil {
			return nil, fmt.Errorf("postgres: scan domain policy row: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Repository) UpsertDomainPolicy(ctx context.Context, p domain.DomainPolicy) error {
	const q = `
		INSERT INTO domain_policies (domain, max_per_day, min_interval_seconds, max_concurrent, avoid,
			cooldown_seconds, blocked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain) DO UPDATE SET
			max_per_day = EXCLUDED.max_per_day, min_interval_seconds = EXCLUDED.min_interval_seconds,
			max_concurrent = EXCLUDED.max_concurrent, avoid = EXCLUDED.avoid,
			cooldown_seconds = EXCLUDED.cooldown_seconds, blocked_until = EXCLUDED.blocked_until`
	_, err := r.pool.Exec(ctx, q, p.Domain, p.MaxPerDay, p.MinIntervalSeconds, p.MaxConcurrent, p.Avoid,
		p.CooldownSeconds, p.BlockedUntil)
	if err != nil {
		return fmt.Errorf("postgres: upsert domain policy %s: %w", p.Domain, err)
	}
	return nil
}
